// Package tasks implements the Sub-agent / Task executor (C6): a
// bounded worker pool that runs recipe-defined tasks sequentially or in
// parallel, streaming per-task progress notifications (§4.6).
package tasks

import (
	"time"
)

// Kind discriminates how a Task's payload should be interpreted (§3).
type Kind string

const (
	KindRecipeInline    Kind = "recipe_inline"
	KindTextInstruction Kind = "text_instruction"
)

// Task is one unit of sub-agent work (§3).
type Task struct {
	ID      string
	Kind    Kind
	Payload string // resolved instruction text, or an inline recipe document
	Timeout time.Duration
	MaxTurns int
}

// Status is the terminal disposition of a Task (§3).
type Status string

const (
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusTimedOut  Status = "timed_out"
)

// Result is the outcome of running one Task (§3).
type Result struct {
	TaskID string
	Status Status
	Data   string
	Err    string
}

// Mode selects how a batch of tasks is scheduled (§4.6).
type Mode string

const (
	ModeSequential Mode = "sequential"
	ModeParallel   Mode = "parallel"
)
