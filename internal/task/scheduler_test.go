package task

import (
	"io"
	"log/slog"
	"testing"

	"github.com/hitoshi/mprelay/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// TestValidate はcron式の検証をテストする。
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "毎分", expr: "* * * * *", wantErr: false},
		{name: "毎時0分", expr: "0 * * * *", wantErr: false},
		{name: "毎日9時", expr: "0 9 * * *", wantErr: false},
		{name: "平日18時", expr: "0 18 * * 1-5", wantErr: false},
		{name: "フィールド不足", expr: "* * *", wantErr: true},
		{name: "範囲外の分", expr: "99 * * * *", wantErr: true},
		{name: "空文字列", expr: "", wantErr: true},
		{name: "非数値", expr: "abc * * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
			if tt.wantErr && model.ErrorCode(err) != model.ErrCodeInvalidExpression {
				t.Errorf("Validate(%q) error code = %q, want %q",
					tt.expr, model.ErrorCode(err), model.ErrCodeInvalidExpression)
			}
		})
	}
}

// TestSchedulerAddJob は登録とジョブID発行をテストする。
func TestSchedulerAddJob(t *testing.T) {
	s := NewScheduler(testLogger())

	jobID, err := s.AddJob("0 9 * * *", func() {})
	if err != nil {
		t.Fatalf("AddJob() returned error: %v", err)
	}
	if jobID == "" {
		t.Fatal("AddJob() returned empty job ID")
	}
	if !s.Contains(jobID) {
		t.Errorf("Contains(%q) = false after AddJob()", jobID)
	}
}

// TestSchedulerAddJob_UniqueIDs は登録ごとに異なるジョブIDが発行されることをテストする。
func TestSchedulerAddJob_UniqueIDs(t *testing.T) {
	s := NewScheduler(testLogger())

	first, err := s.AddJob("* * * * *", func() {})
	if err != nil {
		t.Fatalf("first AddJob() returned error: %v", err)
	}
	second, err := s.AddJob("* * * * *", func() {})
	if err != nil {
		t.Fatalf("second AddJob() returned error: %v", err)
	}

	if first == second {
		t.Errorf("job IDs should be unique, both %q", first)
	}
	if got := len(s.JobIDs()); got != 2 {
		t.Errorf("JobIDs() length = %d, want 2", got)
	}
}

// TestSchedulerAddJob_InvalidExpression は不正なcron式の登録が拒否されることをテストする。
func TestSchedulerAddJob_InvalidExpression(t *testing.T) {
	s := NewScheduler(testLogger())

	jobID, err := s.AddJob("not a cron", func() {})
	if model.ErrorCode(err) != model.ErrCodeInvalidExpression {
		t.Errorf("AddJob() error code = %q, want %q",
			model.ErrorCode(err), model.ErrCodeInvalidExpression)
	}
	if jobID != "" {
		t.Errorf("AddJob() job ID = %q, want empty on failure", jobID)
	}
	if got := len(s.JobIDs()); got != 0 {
		t.Errorf("JobIDs() length = %d, want 0 after failed AddJob()", got)
	}
}

// TestSchedulerRemoveJob は解除と冪等性をテストする。
func TestSchedulerRemoveJob(t *testing.T) {
	s := NewScheduler(testLogger())

	jobID, err := s.AddJob("0 9 * * *", func() {})
	if err != nil {
		t.Fatalf("AddJob() returned error: %v", err)
	}

	if !s.RemoveJob(jobID) {
		t.Error("RemoveJob() = false for registered job, want true")
	}
	if s.Contains(jobID) {
		t.Errorf("Contains(%q) = true after RemoveJob()", jobID)
	}
	if s.RemoveJob(jobID) {
		t.Error("second RemoveJob() = true, want false for already-removed job")
	}
}

// TestSchedulerRemoveJob_Unknown は未登録IDのRemoveJobがfalseを返すことをテストする。
func TestSchedulerRemoveJob_Unknown(t *testing.T) {
	s := NewScheduler(testLogger())

	if s.RemoveJob("no-such-job") {
		t.Error("RemoveJob() = true for unknown ID, want false")
	}
}

// TestSchedulerShutdown はStart後のShutdownが完了することをテストする。
func TestSchedulerShutdown(t *testing.T) {
	s := NewScheduler(testLogger())
	s.Start()
	s.Shutdown(true)
}

// TestSchedulerShutdown_NoWait は待機なしのShutdownが即座に戻ることをテストする。
func TestSchedulerShutdown_NoWait(t *testing.T) {
	s := NewScheduler(testLogger())
	s.Start()
	s.Shutdown(false)
}
