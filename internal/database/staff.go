package database

import (
	"context"
	"database/sql"
	"time"

	"villaops/internal/models"
)

// UpsertStaff writes a roster entry and replaces its skill set.
func (db *DB) UpsertStaff(ctx context.Context, staff *models.Staff) error {
	return db.withTx(ctx, "upsert staff", func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO staff (id, name, available, telegram_chat_id, email, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				available = excluded.available,
				telegram_chat_id = excluded.telegram_chat_id,
				email = excluded.email,
				updated_at = excluded.updated_at`,
			staff.ID, staff.Name, boolToInt(staff.Available), staff.TelegramChatID, staff.Email,
			formatTime(time.Now()))
		if err != nil {
			return storeErr("upsert staff", err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM staff_skills WHERE staff_id = ?`, staff.ID); err != nil {
			return storeErr("upsert staff skills", err)
		}
		for _, skill := range staff.Skills {
			if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO staff_skills (staff_id, skill) VALUES (?, ?)`,
				staff.ID, skill); err != nil {
				return storeErr("upsert staff skills", err)
			}
		}
		return nil
	})
}

func (db *DB) GetStaff(ctx context.Context, id string) (*models.Staff, error) {
	var s models.Staff
	var available int
	err := db.QueryRowContext(ctx, `SELECT id, name, available, telegram_chat_id, email FROM staff WHERE id = ?`, id).
		Scan(&s.ID, &s.Name, &available, &s.TelegramChatID, &s.Email)
	if err != nil {
		return nil, storeErr("get staff", err)
	}
	s.Available = available == 1

	skills, err := db.staffSkills(ctx, id)
	if err != nil {
		return nil, err
	}
	s.Skills = skills
	return &s, nil
}

// ListAvailableStaff returns available staff holding skill, least loaded first.
func (db *DB) ListAvailableStaff(ctx context.Context, skill string) ([]*models.Staff, error) {
	rows, err := db.QueryContext(ctx, `SELECT s.id, s.name, s.telegram_chat_id, s.email,
			(SELECT COUNT(*) FROM tasks t
				WHERE t.assigned_staff_id = s.id AND t.status IN (?, ?)) AS active_tasks
		FROM staff s
		JOIN staff_skills k ON k.staff_id = s.id
		WHERE s.available = 1 AND k.skill = ?
		ORDER BY active_tasks ASC, s.name ASC, s.id ASC`,
		string(models.StatusAssigned), string(models.StatusInProgress), skill)
	if err != nil {
		return nil, storeErr("list staff", err)
	}
	defer rows.Close()

	var staff []*models.Staff
	for rows.Next() {
		s := &models.Staff{Available: true}
		if err := rows.Scan(&s.ID, &s.Name, &s.TelegramChatID, &s.Email, &s.ActiveTasks); err != nil {
			return nil, storeErr("list staff", err)
		}
		staff = append(staff, s)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list staff", err)
	}
	rows.Close()

	for _, s := range staff {
		skills, err := db.staffSkills(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.Skills = skills
	}
	return staff, nil
}

func (db *DB) staffSkills(ctx context.Context, staffID string) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT skill FROM staff_skills WHERE staff_id = ? ORDER BY skill`, staffID)
	if err != nil {
		return nil, storeErr("list staff skills", err)
	}
	defer rows.Close()

	var skills []string
	for rows.Next() {
		var skill string
		if err := rows.Scan(&skill); err != nil {
			return nil, storeErr("list staff skills", err)
		}
		skills = append(skills, skill)
	}
	return skills, rows.Err()
}
