package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"contactbook/internal/model"
	"contactbook/internal/store"
)

const (
	demoEmail    = "demo@contactbook.local"
	demoPassword = "demo-password"
)

// SeedDemoData 初始化演示账号与联系人。
//
// 仅在 app.seed_demo 开启时执行；账号已有联系人时不再写入。
func (s *Server) SeedDemoData(ctx context.Context) error {
	if !s.cfg.App.SeedDemo {
		return nil
	}

	user, err := s.users.FindByEmail(ctx, demoEmail)
	switch {
	case errors.Is(err, store.ErrNotFound):
		hash, hashErr := s.hasher.Hash(demoPassword)
		if hashErr != nil {
			return hashErr
		}
		user = &model.User{
			Email:         demoEmail,
			PasswordHash:  hash,
			EmailVerified: true,
		}
		if err := s.users.Insert(ctx, user); err != nil {
			return fmt.Errorf("seed demo user: %w", err)
		}
	case err != nil:
		return err
	case !user.EmailVerified:
		if err := s.users.SetEmailVerified(ctx, user.ID); err != nil {
			return err
		}
	}

	n, err := s.contacts.Count(ctx, user.ID)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	for _, ct := range demoContacts(user.ID, s.today()) {
		ct := ct
		if err := s.contacts.Create(ctx, &ct); err != nil {
			return fmt.Errorf("seed contact %s: %w", ct.Email, err)
		}
	}
	s.logger.Info("demo data seeded", slog.String("email", demoEmail))
	return nil
}

// demoContacts 生成演示联系人，其中三位的生日落在未来 7 天内。
func demoContacts(userID uint, today time.Time) []model.Contact {
	birthday := func(yearsAgo, inDays int) *time.Time {
		y, m, d := today.AddDate(-yearsAgo, 0, inDays).Date()
		t := time.Date(y, m, d, 0, 0, 0, 0, time.Local)
		return &t
	}
	note := func(s string) *string { return &s }

	return []model.Contact{
		{UserID: userID, FirstName: "Olena", LastName: "Kovalenko", Email: "olena.kovalenko@example.com", Phone: "+380501234501", Birthday: birthday(31, 0), AdditionalInfo: note("Met at the spring meetup")},
		{UserID: userID, FirstName: "Taras", LastName: "Shevchuk", Email: "taras.shevchuk@example.com", Phone: "+380501234502", Birthday: birthday(28, 3)},
		{UserID: userID, FirstName: "Iryna", LastName: "Bondar", Email: "iryna.bondar@example.com", Phone: "+380501234503", Birthday: birthday(40, 6)},
		{UserID: userID, FirstName: "Andrii", LastName: "Melnyk", Email: "andrii.melnyk@example.com", Phone: "+380501234504", Birthday: birthday(35, 45)},
		{UserID: userID, FirstName: "Sofiia", LastName: "Tkachenko", Email: "sofiia.tkachenko@example.com", Phone: "+380501234505"},
		{UserID: userID, FirstName: "Dmytro", LastName: "Kravets", Email: "dmytro.kravets@example.com", Phone: "+380501234506", AdditionalInfo: note("Prefers email")},
	}
}
