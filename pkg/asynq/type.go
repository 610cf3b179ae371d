package asynq

// Task types consumed by the worker binary.
const (
	BatchRunTask = "batch:run"
)

// BatchRunPayload carries the persisted job id to the worker; all other job
// state lives in the batch_jobs row.
type BatchRunPayload struct {
	JobID string `json:"job_id"`
}
