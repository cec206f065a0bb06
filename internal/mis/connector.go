package mis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"miszen/internal/zen"
)

const (
	EntityTypeCommandExecution = "command_execution"
	EntityTypeEventProcessing  = "event_processing"

	RelationTriggered = "triggered"

	commandEntityPrefix = "zen_command_"
	lastExecutionPrefix = "zen_command_last_"
	previewLength       = 200
	relatedLimit        = 5
)

// CommandEntityName names the knowledge-graph entity for one execution.
func CommandEntityName(command string, at time.Time) string {
	return commandEntityPrefix + command + "_" + at.Format("20060102_150405")
}

// LastExecutionKey is the memory key holding the latest run of command.
func LastExecutionKey(command string) string {
	return lastExecutionPrefix + command
}

// EventEntityName names the knowledge-graph entity for a processed event.
func EventEntityName(eventID string) string {
	return "event_processing_" + eventID
}

// RecordCommandExecution stores res as a command_execution entity and
// overwrites the command's last-execution memory.
func (c *Client) RecordCommandExecution(ctx context.Context, params map[string]any, res zen.CommandResult) error {
	at := res.Timestamp
	if at.IsZero() {
		at = time.Now()
	}

	entity := Entity{
		Name:         CommandEntityName(res.Command, at),
		EntityType:   EntityTypeCommandExecution,
		Observations: commandObservations(params, res),
		Tags:         []string{res.Command, "zen-mcp", outcomeTag(res.Success)},
	}
	if _, err := c.CreateEntities(ctx, []Entity{entity}); err != nil {
		return fmt.Errorf("record %s execution: %w", res.Command, err)
	}

	record := ExecutionRecord{
		Command:       res.Command,
		Params:        params,
		Success:       res.Success,
		ExecutionTime: res.ExecutionTime.Seconds(),
		Timestamp:     at.Format(time.RFC3339Nano),
	}
	if res.Success {
		record.Result = res.Result
	} else {
		msg := res.Error
		record.Error = &msg
	}

	tags := []string{res.Command, "zen-mcp", "last_execution"}
	if _, err := c.CreateMemory(ctx, LastExecutionKey(res.Command), record, tags); err != nil {
		return fmt.Errorf("record %s execution: %w", res.Command, err)
	}
	return nil
}

// RecordEventProcessing stores an event_processing entity and links it to
// the most recent entity of each triggered command.
func (c *Client) RecordEventProcessing(ctx context.Context, eventID, eventType string, commands []string, success bool) error {
	name := EventEntityName(eventID)
	entity := Entity{
		Name:       name,
		EntityType: EntityTypeEventProcessing,
		Observations: []string{
			"Event type: " + eventType,
			"Event ID: " + eventID,
			"Triggered commands: " + strings.Join(commands, ", "),
			fmt.Sprintf("Success: %t", success),
			"Timestamp: " + time.Now().Format(time.RFC3339Nano),
		},
		Tags: []string{eventType, "event", outcomeTag(success)},
	}
	if _, err := c.CreateEntities(ctx, []Entity{entity}); err != nil {
		return fmt.Errorf("record event %s: %w", eventID, err)
	}

	var relations []Relation
	for _, cmd := range commands {
		found, err := c.SearchKnowledge(ctx, commandEntityPrefix+cmd, "fuzzy")
		if err != nil {
			c.logger.Warn("mis_command_lookup_failed", "command", cmd, "error", err)
			continue
		}
		if len(found.Entities) == 0 {
			continue
		}
		relations = append(relations, Relation{
			From:         name,
			To:           found.Entities[0].Name,
			RelationType: RelationTriggered,
		})
	}

	if len(relations) == 0 {
		return nil
	}
	if _, err := c.CreateRelations(ctx, relations); err != nil {
		return fmt.Errorf("record event %s: %w", eventID, err)
	}
	return nil
}

// GetCommandContext gathers the last execution and up to five related
// execution entities for command.
func (c *Client) GetCommandContext(ctx context.Context, command string) (*CommandContext, error) {
	last, err := c.GetMemory(ctx, LastExecutionKey(command))
	if err != nil {
		return nil, err
	}

	found, err := c.SearchKnowledge(ctx, commandEntityPrefix+command, "fuzzy")
	if err != nil {
		return nil, err
	}
	related := found.Entities
	if len(related) > relatedLimit {
		related = related[:relatedLimit]
	}

	return &CommandContext{
		Command:           command,
		LastExecution:     last,
		RelatedExecutions: related,
	}, nil
}

func commandObservations(params map[string]any, res zen.CommandResult) []string {
	obs := []string{
		"Command: " + res.Command,
		fmt.Sprintf("Success: %t", res.Success),
		fmt.Sprintf("Execution time: %.2fs", res.ExecutionTime.Seconds()),
		fmt.Sprintf("Parameters: %v", params),
	}
	switch {
	case len(res.Result) > 0:
		preview := string(res.Result)
		if len(preview) > previewLength {
			preview = preview[:previewLength]
		}
		obs = append(obs, "Result preview: "+preview+"...")
	case res.Error != "":
		obs = append(obs, "Error: "+res.Error)
	default:
		obs = append(obs, "No result")
	}
	return obs
}

func outcomeTag(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}
