package mis

import "encoding/json"

// Entity is a knowledge-graph node.
type Entity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
	Tags         []string `json:"tags,omitempty"`
}

// Relation is a directed knowledge-graph edge.
type Relation struct {
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
}

// Observation adds facts to an existing entity.
type Observation struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// Memory is a memory-bank record.
type Memory struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Tags      []string        `json:"tags"`
	Timestamp string          `json:"timestamp"`
}

// SearchResult is the knowledge-graph search response.
type SearchResult struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations,omitempty"`
}

type entitiesRequest struct {
	Entities []Entity `json:"entities"`
}

type relationsRequest struct {
	Relations []Relation `json:"relations"`
}

type observationsRequest struct {
	Observations []Observation `json:"observations"`
}

type createMemoryRequest struct {
	Key       string   `json:"key"`
	Value     any      `json:"value"`
	Tags      []string `json:"tags"`
	Timestamp string   `json:"timestamp"`
}

type memorySearchResponse struct {
	Memories []Memory `json:"memories"`
}

// CommandContext summarises earlier executions of one command.
type CommandContext struct {
	Command           string   `json:"command"`
	LastExecution     *Memory  `json:"last_execution"`
	RelatedExecutions []Entity `json:"related_executions"`
}

// ExecutionRecord is the memory value written for the latest run of a command.
type ExecutionRecord struct {
	Command       string          `json:"command"`
	Params        map[string]any  `json:"params"`
	Result        json.RawMessage `json:"result"`
	Error         *string         `json:"error"`
	Success       bool            `json:"success"`
	ExecutionTime float64         `json:"execution_time"`
	Timestamp     string          `json:"timestamp"`
}
