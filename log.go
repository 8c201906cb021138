package main

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/castlegate/mailroom/postman"
	"github.com/google/uuid"
)

// defaultKeepDays is the age cutoff applied when an age-based retention
// policy does not specify one.
const defaultKeepDays = 180

// LogService persists and prunes submission log entries. It satisfies
// postman.LogStore so the pipeline can append entries without knowing
// about the database.
type LogService struct {
	db *DB
}

// Append stores a submission record, assigning it a reference token.
func (s *LogService) Append(ctx context.Context, e *postman.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	e.Token = uuid.NewString()

	err = insertEntry(ctx, tx, e)
	if err != nil {
		return err
	}

	return tx.Commit()
}

// FindEntries returns the log entries of a form, most recent first,
// along with the total count.
func (s *LogService) FindEntries(ctx context.Context, formID string) ([]*postman.Entry, int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, 0, err
	}
	defer tx.Rollback()

	return findEntries(ctx, tx, formID)
}

// DeleteEntries removes every entry of a form.
func (s *LogService) DeleteEntries(ctx context.Context, formID string) error {
	return s.prune(ctx, formID, `DELETE FROM log_entries WHERE form_id = ?`)
}

// DeleteEntriesExcept removes all but the n most recent entries of a
// form.
func (s *LogService) DeleteEntriesExcept(ctx context.Context, formID string, n int) error {
	return s.prune(ctx, formID,
		`DELETE FROM log_entries WHERE form_id = ?
			AND id NOT IN (
				SELECT id FROM log_entries WHERE form_id = ?
				ORDER BY date DESC, id DESC LIMIT ?
			)`,
		formID, n,
	)
}

// DeleteEntriesOlderThan removes the entries of a form older than the
// given number of days. A non-positive cutoff falls back to the default.
func (s *LogService) DeleteEntriesOlderThan(ctx context.Context, formID string, days int) error {
	if days <= 0 {
		days = defaultKeepDays
	}

	cutoff := time.Now().AddDate(0, 0, -days)

	return s.prune(ctx, formID,
		`DELETE FROM log_entries WHERE form_id = ? AND date < ?`,
		cutoff.Format(time.RFC3339),
	)
}

func (s *LogService) prune(ctx context.Context, formID, query string, args ...interface{}) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	params := append([]interface{}{formID}, args...)

	if _, err := tx.ExecContext(ctx, query, params...); err != nil {
		return err
	}

	return tx.Commit()
}

func insertEntry(ctx context.Context, tx *sql.Tx, e *postman.Entry) error {
	res, err := tx.ExecContext(ctx,
		`INSERT INTO log_entries (
			token, date, form_id, site_id, post_id, user_id,
			ip, user_agent,
			mail_to, mail_from, mail_subject, mail_body, mail_headers,
			field_data
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Token, e.Date.Format(time.RFC3339), e.FormID, e.SiteID, e.PostID, e.UserID,
		e.IP, e.UserAgent,
		e.MailTo, e.MailFrom, e.MailSubject, e.MailBody, e.MailHeaders,
		string(e.FieldData),
	)
	if err != nil {
		return err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	e.ID = int(id)

	return nil
}

func findEntries(ctx context.Context, tx *sql.Tx, formID string) (_ []*postman.Entry, n int, err error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT
			id,
			token,
			date,
			form_id,
			site_id,
			post_id,
			user_id,
			ip,
			user_agent,
			mail_to,
			mail_from,
			mail_subject,
			mail_body,
			mail_headers,
			field_data,
			COUNT(*) OVER()
		FROM log_entries
		WHERE form_id = ?
		ORDER BY date DESC, id DESC`,
		formID,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	entries := make([]*postman.Entry, 0)

	for rows.Next() {
		var e postman.Entry
		var date, fieldData string

		err = rows.Scan(
			&e.ID, &e.Token, &date, &e.FormID, &e.SiteID, &e.PostID, &e.UserID,
			&e.IP, &e.UserAgent,
			&e.MailTo, &e.MailFrom, &e.MailSubject, &e.MailBody, &e.MailHeaders,
			&fieldData, &n,
		)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, 0, ErrNoRecord
			}
			return nil, 0, err
		}

		e.Date, err = time.Parse(time.RFC3339, date)
		if err != nil {
			return nil, 0, err
		}
		e.FieldData = []byte(fieldData)

		entries = append(entries, &e)
	}

	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	return entries, n, nil
}
