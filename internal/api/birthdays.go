package api

import (
	"net/http"
	"sort"
	"time"

	"contactbook/internal/api/middleware"
	"contactbook/internal/model"

	"github.com/gin-gonic/gin"
)

const (
	defaultDaysAhead = 7
	maxDaysAhead     = 366
)

// handleUpcomingBirthdays 返回未来 days_ahead 天内（含今天）过生日的联系人。
//
// GET /api/contacts/birthdays/upcoming?days_ahead=7
func (s *Server) handleUpcomingBirthdays(c *gin.Context) {
	days, err := queryInt(c, "days_ahead", defaultDaysAhead)
	if err != nil || days < 0 || days > maxDaysAhead {
		c.JSON(http.StatusBadRequest, gin.H{"error": "days_ahead must be between 0 and 366"})
		return
	}

	contacts, err := s.contacts.ListWithBirthdays(c.Request.Context(), middleware.CurrentUser(c).ID)
	if err != nil {
		s.writeContactError(c, err)
		return
	}

	upcoming := upcomingBirthdays(contacts, s.today(), days)
	out := make([]ContactShortResponse, 0, len(upcoming))
	for _, ct := range upcoming {
		out = append(out, newShortResponse(ct))
	}
	c.JSON(http.StatusOK, out)
}

// upcomingBirthdays 按距离生日的天数升序返回 [today, today+days] 内过生日的联系人。
func upcomingBirthdays(contacts []model.Contact, today time.Time, days int) []model.Contact {
	type hit struct {
		contact model.Contact
		until   int
	}
	today = dateOf(today)
	var hits []hit
	for _, ct := range contacts {
		if ct.Birthday == nil {
			continue
		}
		until := daysUntil(nextBirthday(*ct.Birthday, today), today)
		if until <= days {
			hits = append(hits, hit{contact: ct, until: until})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].until < hits[j].until
	})

	out := make([]model.Contact, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.contact)
	}
	return out
}

// nextBirthday 返回 today 当天或之后最近的一次生日。
// 2 月 29 日出生的人在平年按 2 月 28 日计算。
func nextBirthday(birthday, today time.Time) time.Time {
	next := anniversary(birthday, today.Year())
	if next.Before(today) {
		next = anniversary(birthday, today.Year()+1)
	}
	return next
}

func anniversary(birthday time.Time, year int) time.Time {
	month, day := birthday.Month(), birthday.Day()
	if month == time.February && day == 29 && !isLeap(year) {
		day = 28
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysUntil(target, today time.Time) int {
	return int(target.Sub(today).Hours() / 24)
}

func isLeap(year int) bool {
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

// dateOf 截断为 UTC 日期，忽略时区偏移带来的日期变化。
func dateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
