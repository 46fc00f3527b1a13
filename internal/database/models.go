package database

import "time"

// Channel is a monitored message source
type Channel struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Source     string    `json:"source"`
	ExternalID string    `json:"external_id"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// RunStatus is the lifecycle state of a stored backtest run
type RunStatus string

const (
	RunPending  RunStatus = "pending"
	RunRunning  RunStatus = "running"
	RunFinished RunStatus = "finished"
	RunFailed   RunStatus = "failed"
)

// BacktestRun is the stored record of one backtest execution
type BacktestRun struct {
	ID          int64      `json:"id"`
	Params      []byte     `json:"params"`
	Status      RunStatus  `json:"status"`
	Error       string     `json:"error,omitempty"`
	TotalTrades int        `json:"total_trades"`
	WinRate     float64    `json:"win_rate"`
	TotalReturn float64    `json:"total_return"`
	CreatedAt   time.Time  `json:"created_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}
