package api

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"contactbook/internal/model"
)

func bday(y int, m time.Month, d int) *time.Time {
	t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	return &t
}

func ids(cs []model.Contact) []uint {
	out := make([]uint, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.ID)
	}
	return out
}

func equalIDs(a, b []uint) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestUpcomingBirthdays(t *testing.T) {
	today := time.Date(2024, time.June, 10, 18, 30, 0, 0, time.UTC)
	contacts := []model.Contact{
		{ID: 1, Birthday: bday(1990, time.June, 17)},
		{ID: 2, Birthday: bday(1985, time.June, 10)},
		{ID: 3, Birthday: bday(1970, time.June, 9)},
		{ID: 4, Birthday: bday(2000, time.June, 12)},
		{ID: 5},
		{ID: 6, Birthday: bday(1999, time.June, 18)},
	}

	got := ids(upcomingBirthdays(contacts, today, 7))
	want := []uint{2, 4, 1}
	if !equalIDs(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	if got := ids(upcomingBirthdays(contacts, today, 0)); !equalIDs(got, []uint{2}) {
		t.Fatalf("days=0 should only include today, got %v", got)
	}

	// 昨天的生日要等到明年。
	if got := ids(upcomingBirthdays(contacts, today, 366)); len(got) != 5 || got[4] != 3 {
		t.Fatalf("expected yesterday's birthday last, got %v", got)
	}
}

func TestUpcomingBirthdays_YearWrap(t *testing.T) {
	today := time.Date(2024, time.December, 29, 0, 0, 0, 0, time.UTC)
	contacts := []model.Contact{
		{ID: 1, Birthday: bday(1990, time.January, 2)},
		{ID: 2, Birthday: bday(1990, time.December, 31)},
	}
	if got := ids(upcomingBirthdays(contacts, today, 5)); !equalIDs(got, []uint{2, 1}) {
		t.Fatalf("unexpected order across new year: %v", got)
	}
}

func TestUpcomingBirthdays_LeapDay(t *testing.T) {
	leapling := []model.Contact{{ID: 1, Birthday: bday(2000, time.February, 29)}}

	nonLeap := time.Date(2023, time.February, 28, 0, 0, 0, 0, time.UTC)
	if got := upcomingBirthdays(leapling, nonLeap, 0); len(got) != 1 {
		t.Fatalf("Feb 29 birthday should fall on Feb 28 in a non-leap year")
	}

	leap := time.Date(2024, time.February, 28, 0, 0, 0, 0, time.UTC)
	if got := upcomingBirthdays(leapling, leap, 0); len(got) != 0 {
		t.Fatalf("Feb 29 birthday should not fall on Feb 28 in a leap year")
	}
	if got := upcomingBirthdays(leapling, leap, 1); len(got) != 1 {
		t.Fatalf("Feb 29 birthday expected within one day in a leap year")
	}
}

func TestHandleUpcomingBirthdays(t *testing.T) {
	mem := newMemContacts()
	mem.rows[1] = model.Contact{ID: 1, UserID: 1, FirstName: "Soon", Birthday: bday(1990, time.June, 12)}
	mem.rows[2] = model.Contact{ID: 2, UserID: 1, FirstName: "Later", Birthday: bday(1990, time.August, 1)}
	mem.rows[3] = model.Contact{ID: 3, UserID: 2, FirstName: "Stranger", Birthday: bday(1990, time.June, 11)}
	r := contactRouter(newTestServer(mem), 1)

	w := doJSON(r, http.MethodGet, "/api/contacts/birthdays/upcoming", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out []ContactShortResponse
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 1 || out[0].ID != 1 {
		t.Fatalf("unexpected result: %+v", out)
	}

	for _, q := range []string{"-1", "367", "soon"} {
		if w := doJSON(r, http.MethodGet, "/api/contacts/birthdays/upcoming?days_ahead="+q, nil); w.Code != http.StatusBadRequest {
			t.Fatalf("days_ahead=%s: expected 400, got %d", q, w.Code)
		}
	}
}
