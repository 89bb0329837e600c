package sink

import (
	"context"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/wardgate/snare/internal/event"
)

func TestValidateTableName(t *testing.T) {
	valid := []string{"decision_events", "events", "_private", "Events2"}
	for _, name := range valid {
		if err := validateTableName(name); err != nil {
			t.Errorf("validateTableName(%q) = %v, want nil", name, err)
		}
	}

	invalid := []string{"", "2events", "events; DROP TABLE users", "events-log", "a.b", `a"b`}
	for _, name := range invalid {
		if err := validateTableName(name); err == nil {
			t.Errorf("validateTableName(%q) should fail", name)
		}
	}
}

func TestPGSinkEnqueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	s := NewPGSink("unused", "decision_events")
	s.setDB(db)

	e := event.New(event.TypeVerdict, "escalate")
	e.IP = "203.0.113.9"
	e.Decision = "block"

	mock.ExpectExec("INSERT INTO decision_events").
		WithArgs(e.EventID, e.TS, e.Type, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Enqueue(e); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestPGSinkEnqueueBeforeStart(t *testing.T) {
	s := NewPGSink("unused", "decision_events")
	if err := s.Enqueue(event.New(event.TypeVerdict, "escalate")); err == nil {
		t.Error("Enqueue before Start should fail")
	}
}

func TestPGSinkStartRejectsBadTable(t *testing.T) {
	s := NewPGSink("unused", "bad;table")
	if err := s.Start(context.Background()); err == nil {
		t.Error("Start should reject an invalid table name")
	}
}
