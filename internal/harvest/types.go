package harvest

import "time"

// Partition is a top-level grouping of entities (a region).
type Partition struct {
	Title string `json:"title"`
	Key   string `json:"key"`
}

// Entity is a member record (a breeder) listed under exactly one partition.
type Entity struct {
	Title         string   `json:"title"`
	Owner         string   `json:"owner"`
	ID            string   `json:"id"`
	PartitionKey  string   `json:"partition_key"`
	CategoryCodes []string `json:"category_codes"`
}

// Category is a classification record (a breed) keyed by code.
type Category struct {
	Code             string `json:"code"`
	RemoteID         string `json:"remote_id"`
	LastUpdate       string `json:"last_update"`
	Description      string `json:"description"`
	GroupCode        string `json:"group_code"`
	GroupDescription string `json:"group_description"`
}

// Person is an individual (a society member) associated with one or more entities.
type Person struct {
	Description string   `json:"description"`
	ID          string   `json:"id"`
	Signatory   bool     `json:"signatory"`
	Address     string   `json:"address"`
	Town        string   `json:"town"`
	EntityIDs   []string `json:"entity_ids"`
}

// PartialResult is the nested-record bundle produced by one detail fetch.
type PartialResult struct {
	EntityID   string     `json:"entity_id"`
	Persons    []Person   `json:"persons"`
	Categories []Category `json:"categories"`
}

// Batch is the canonical, deduplicated output of a run, ready for persistence.
type Batch struct {
	Partitions []Partition `json:"partitions"`
	Entities   []Entity    `json:"entities"`
	Persons    []Person    `json:"persons"`
	Categories []Category  `json:"categories"`
}

// Summary describes the outcome of one harvest run.
type Summary struct {
	RunID               string        `json:"run_id"`
	Partitions          int           `json:"partitions"`
	Entities            int           `json:"entities"`
	Persons             int           `json:"persons"`
	Categories          int           `json:"categories"`
	DuplicateCategories int           `json:"duplicate_categories"`
	DanglingLinks       int           `json:"dangling_links"`
	FailedEntities      []string      `json:"failed_entities,omitempty"`
	StartedAt           time.Time     `json:"started_at"`
	Duration            time.Duration `json:"duration"`
	ArchiveURI          string        `json:"archive_uri,omitempty"`
	ArchiveSHA256       string        `json:"archive_sha256,omitempty"`
}
