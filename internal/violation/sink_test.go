package violation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v3"
)

func TestPGSinkSaveAlert(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	created := time.Now()
	mock.ExpectExec(`(?s)INSERT INTO flight_alerts.*ON CONFLICT \(id\) DO UPDATE`).
		WithArgs("alert-1", "pilot-1", "altitude_violation", "too high", "", 47.0, 11.0, 2100.0, 2300.0, created, pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	sink := NewPGSink(mock)
	err = sink.SaveAlert(context.Background(), Alert{
		ID: "alert-1", UID: "pilot-1", Type: AlertAltitude, Message: "too high",
		Latitude: 47, Longitude: 11, Altitude: 2100, MaxAltitude: 2300, CreatedAt: created,
	})
	if err != nil {
		t.Fatalf("save alert: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSinkSaveAlertError(t *testing.T) {
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	defer mock.Close()

	mock.ExpectExec(`INSERT INTO flight_alerts`).WillReturnError(errors.New("boom"))
	if err := NewPGSink(mock).SaveAlert(context.Background(), Alert{ID: "a"}); err == nil {
		t.Fatalf("expected error")
	}
}
