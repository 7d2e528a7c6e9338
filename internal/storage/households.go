package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"conti/internal/core"

	"github.com/google/uuid"
)

// CreateHousehold inserts a household and enrolls the creator as its
// admin member at position 0, in one transaction.
func (r *Repository) CreateHousehold(ctx context.Context, name, creatorID string) (core.Household, error) {
	h := core.Household{
		ID:         uuid.NewString(),
		Name:       strings.TrimSpace(name),
		InviteCode: newInviteCode(),
		CreatedBy:  creatorID,
		CreatedAt:  time.Now().UTC(),
	}
	if err := h.Validate(); err != nil {
		return core.Household{}, err
	}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO households (id, name, invite_code, created_by, created_at) VALUES (?, ?, ?, ?, ?)`,
			h.ID, h.Name, h.InviteCode, h.CreatedBy, h.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("insert household: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO household_members (household_id, user_id, role, position, joined_at) VALUES (?, ?, ?, 0, ?)`,
			h.ID, h.CreatedBy, core.RoleAdmin, h.CreatedAt.Unix()); err != nil {
			return fmt.Errorf("insert admin member: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Household{}, err
	}

	slog.InfoContext(ctx, "Household created",
		"household_id", h.ID, "name", h.Name, "created_by", creatorID)
	return h, nil
}

// JoinHousehold enrolls a user via invite code. The new member takes the
// next position so split remainders stay deterministic.
func (r *Repository) JoinHousehold(ctx context.Context, inviteCode, userID string) (core.Household, error) {
	h, err := r.GetHouseholdByInviteCode(ctx, inviteCode)
	if err != nil {
		return core.Household{}, err
	}

	err = r.withTx(ctx, func(tx *sql.Tx) error {
		var next int
		if err := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(position), -1) + 1 FROM household_members WHERE household_id = ?`,
			h.ID).Scan(&next); err != nil {
			return fmt.Errorf("next member position: %w", err)
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO household_members (household_id, user_id, role, position, joined_at) VALUES (?, ?, ?, ?, ?)`,
			h.ID, userID, core.RoleMember, next, time.Now().UTC().Unix())
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE constraint failed") ||
				strings.Contains(err.Error(), "PRIMARY KEY constraint failed") {
				return ErrAlreadyMember
			}
			return fmt.Errorf("insert member: %w", err)
		}
		return nil
	})
	if err != nil {
		return core.Household{}, err
	}

	slog.InfoContext(ctx, "User joined household", "household_id", h.ID, "user_id", userID)
	return h, nil
}

func (r *Repository) GetHousehold(ctx context.Context, id string) (core.Household, error) {
	return r.scanHousehold(r.db.QueryRowContext(ctx,
		`SELECT id, name, invite_code, created_by, created_at FROM households WHERE id = ?`, id))
}

func (r *Repository) GetHouseholdByInviteCode(ctx context.Context, code string) (core.Household, error) {
	return r.scanHousehold(r.db.QueryRowContext(ctx,
		`SELECT id, name, invite_code, created_by, created_at FROM households WHERE invite_code = ?`,
		strings.TrimSpace(code)))
}

func (r *Repository) scanHousehold(row *sql.Row) (core.Household, error) {
	var h core.Household
	var createdAt int64
	err := row.Scan(&h.ID, &h.Name, &h.InviteCode, &h.CreatedBy, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Household{}, ErrNotFound
	}
	if err != nil {
		return core.Household{}, fmt.Errorf("scan household: %w", err)
	}
	h.CreatedAt = time.Unix(createdAt, 0).UTC()
	return h, nil
}

// ListHouseholds returns the households the user belongs to.
func (r *Repository) ListHouseholds(ctx context.Context, userID string) ([]core.Household, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT h.id, h.name, h.invite_code, h.created_by, h.created_at
		 FROM households h
		 JOIN household_members m ON m.household_id = h.id
		 WHERE m.user_id = ?
		 ORDER BY h.created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("list households: %w", err)
	}
	defer rows.Close()

	var households []core.Household
	for rows.Next() {
		var h core.Household
		var createdAt int64
		if err := rows.Scan(&h.ID, &h.Name, &h.InviteCode, &h.CreatedBy, &createdAt); err != nil {
			return nil, fmt.Errorf("scan household: %w", err)
		}
		h.CreatedAt = time.Unix(createdAt, 0).UTC()
		households = append(households, h)
	}
	return households, rows.Err()
}

// ListMembers returns household members in stored position order. That
// order is what EqualShares relies on for the remainder target.
func (r *Repository) ListMembers(ctx context.Context, householdID string) ([]core.Member, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.household_id, m.user_id, u.name, m.role, m.position, m.joined_at
		 FROM household_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.household_id = ?
		 ORDER BY m.position`, householdID)
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	defer rows.Close()

	var members []core.Member
	for rows.Next() {
		var m core.Member
		var role string
		var joinedAt int64
		if err := rows.Scan(&m.HouseholdID, &m.UserID, &m.Name, &role, &m.Position, &joinedAt); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Role = core.MemberRole(role)
		m.JoinedAt = time.Unix(joinedAt, 0).UTC()
		members = append(members, m)
	}
	return members, rows.Err()
}

// GetMember loads one membership row, role included.
func (r *Repository) GetMember(ctx context.Context, householdID, userID string) (core.Member, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT m.household_id, m.user_id, u.name, m.role, m.position, m.joined_at
		 FROM household_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.household_id = ? AND m.user_id = ?`, householdID, userID)

	var m core.Member
	var role string
	var joinedAt int64
	err := row.Scan(&m.HouseholdID, &m.UserID, &m.Name, &role, &m.Position, &joinedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Member{}, ErrNotFound
	}
	if err != nil {
		return core.Member{}, fmt.Errorf("scan member: %w", err)
	}
	m.Role = core.MemberRole(role)
	m.JoinedAt = time.Unix(joinedAt, 0).UTC()
	return m, nil
}

// IsMember reports whether the user belongs to the household.
func (r *Repository) IsMember(ctx context.Context, householdID, userID string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM household_members WHERE household_id = ? AND user_id = ?`,
		householdID, userID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check membership: %w", err)
	}
	return n > 0, nil
}

// newInviteCode returns a short shareable code. UUIDs give us enough
// entropy; the first block keeps the code typeable.
func newInviteCode() string {
	return strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
}
