package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/thogmi/comms-backend/internal/models"
)

// UserRepository is the read-only view onto the identity directory the
// engine needs: profile lookup for personalization and segmentation
// evaluation over the population.
type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	CountSegment(ctx context.Context, filter models.AudienceFilter) (int64, error)
	// ListSegment returns up to limit users matching filter with id >
	// afterID, ordered by id. Keyset pagination keeps launch memory
	// bounded for large populations.
	ListSegment(ctx context.Context, filter models.AudienceFilter, afterID int64, limit int) ([]*models.User, error)
}

const userColumns = `id, email, phone, device_token, first_name, last_name,
	branch_id, roles, member_status, attendance_count, is_regular_giver,
	total_given, is_volunteer, age, location, marital_status, has_children,
	global_opt_out, is_active, joined_at, last_login_at`

// userRepository implements UserRepository using PostgreSQL
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

// GetByID retrieves a user by ID
func (r *userRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := fmt.Sprintf("SELECT %s FROM users WHERE id = $1", userColumns)

	user, err := scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFoundWithMsg(fmt.Sprintf("user with ID %d not found", id))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CountSegment counts users matching the filter without materializing them.
func (r *userRepository) CountSegment(ctx context.Context, filter models.AudienceFilter) (int64, error) {
	where, args := buildSegmentWhere(filter, 1)
	query := "SELECT COUNT(*) FROM users u WHERE " + where

	var count int64
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count segment: %w", err)
	}
	return count, nil
}

// segmentListQuery assembles the keyset page query for ListSegment. The
// column list stays unqualified: users is the only table in the outer
// SELECT, so qualifying it would only invite corruption of columns whose
// names happen to contain "id".
func segmentListQuery(filter models.AudienceFilter) (string, []interface{}) {
	where, args := buildSegmentWhere(filter, 1)
	argPos := len(args) + 1
	query := fmt.Sprintf(
		"SELECT %s FROM users u WHERE %s AND u.id > $%d ORDER BY u.id LIMIT $%d",
		userColumns, where, argPos, argPos+1,
	)
	return query, args
}

// ListSegment returns one keyset page of matching users.
func (r *userRepository) ListSegment(ctx context.Context, filter models.AudienceFilter, afterID int64, limit int) ([]*models.User, error) {
	query, args := segmentListQuery(filter)
	args = append(args, afterID, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list segment: %w", err)
	}
	defer rows.Close()

	users := []*models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating segment: %w", err)
	}
	return users, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (*models.User, error) {
	user := &models.User{}
	var (
		phone, deviceToken, memberStatus, location, marital sql.NullString
		branchID                                            sql.NullInt64
		age                                                 sql.NullInt64
		lastLogin                                           sql.NullTime
	)

	err := row.Scan(
		&user.ID,
		&user.Email,
		&phone,
		&deviceToken,
		&user.FirstName,
		&user.LastName,
		&branchID,
		pq.Array(&user.Roles),
		&memberStatus,
		&user.AttendanceCount,
		&user.IsRegularGiver,
		&user.TotalGiven,
		&user.IsVolunteer,
		&age,
		&location,
		&marital,
		&user.HasChildren,
		&user.GlobalOptOut,
		&user.IsActive,
		&user.JoinedAt,
		&lastLogin,
	)
	if err != nil {
		return nil, err
	}

	user.Phone = phone.String
	user.DeviceToken = deviceToken.String
	user.MemberStatus = memberStatus.String
	user.Location = location.String
	user.MaritalStatus = marital.String
	user.BranchID = branchID.Int64
	user.Age = int(age.Int64)
	if lastLogin.Valid {
		user.LastLoginAt = &lastLogin.Time
	}
	return user, nil
}

// buildSegmentWhere translates an audience filter into a conjunctive WHERE
// clause. Every criterion present narrows the set; absent criteria impose
// no constraint. Inactive users are always excluded.
func buildSegmentWhere(f models.AudienceFilter, startPos int) (string, []interface{}) {
	conds := []string{"u.is_active = TRUE"}
	args := []interface{}{}
	pos := startPos

	arg := func(v interface{}) string {
		args = append(args, v)
		p := fmt.Sprintf("$%d", pos)
		pos++
		return p
	}

	if f.BranchID > 0 {
		conds = append(conds, "u.branch_id = "+arg(f.BranchID))
	}
	if len(f.Roles) > 0 {
		conds = append(conds, "u.roles && "+arg(pq.Array(f.Roles)))
	}
	if f.GroupID > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM group_members gm WHERE gm.user_id = u.id AND gm.group_id = "+arg(f.GroupID)+")")
	}
	if f.MemberStatus != "" {
		conds = append(conds, "u.member_status = "+arg(f.MemberStatus))
	}
	if f.JoinedAfter != nil {
		conds = append(conds, "u.joined_at >= "+arg(*f.JoinedAfter))
	}
	if f.LastLoginAfter != nil {
		conds = append(conds, "u.last_login_at >= "+arg(*f.LastLoginAfter))
	}

	switch f.AttendanceFrequency {
	case "regular":
		conds = append(conds, "u.attendance_count >= 4")
	case "occasional":
		conds = append(conds, "u.attendance_count >= 1 AND u.attendance_count < 4")
	case "inactive":
		conds = append(conds, "(u.last_login_at IS NULL OR u.last_login_at < NOW() - INTERVAL '30 days')")
	}

	switch f.GivingPattern {
	case "regular_giver":
		conds = append(conds, "u.is_regular_giver = TRUE")
	case "one_time_giver":
		conds = append(conds, "u.total_given > 0 AND u.is_regular_giver = FALSE")
	}

	switch f.EngagementLevel {
	case "high":
		conds = append(conds, "(u.attendance_count >= 8 OR u.is_volunteer = TRUE)")
	case "medium":
		conds = append(conds, "u.attendance_count >= 2 AND u.attendance_count < 8")
	}

	if len(f.AgeGroups) > 0 {
		ageConds := []string{}
		for _, group := range f.AgeGroups {
			switch group {
			case "youth":
				ageConds = append(ageConds, "u.age < 30")
			case "adults":
				ageConds = append(ageConds, "(u.age >= 30 AND u.age < 60)")
			case "seniors":
				ageConds = append(ageConds, "u.age >= 60")
			}
		}
		if len(ageConds) > 0 {
			conds = append(conds, "("+strings.Join(ageConds, " OR ")+")")
		}
	}

	if len(f.Locations) > 0 {
		locConds := []string{}
		for _, loc := range f.Locations {
			locConds = append(locConds, "u.location ILIKE "+arg("%"+loc+"%"))
		}
		conds = append(conds, "("+strings.Join(locConds, " OR ")+")")
	}

	switch f.FamilyStatus {
	case "single":
		conds = append(conds, "u.marital_status = 'single'")
	case "married":
		conds = append(conds, "u.marital_status = 'married'")
	case "parents":
		conds = append(conds, "u.has_children = TRUE")
	}

	if f.MinOpenCount > 0 {
		conds = append(conds, "EXISTS (SELECT 1 FROM messages m WHERE m.to_user_id = u.id AND m.open_count >= "+arg(f.MinOpenCount)+")")
	}
	if f.MinResponseRate > 0 {
		conds = append(conds,
			"(SELECT COALESCE(COUNT(*) FILTER (WHERE m.read_at IS NOT NULL) * 100 / NULLIF(COUNT(*), 0), 0) FROM messages m WHERE m.to_user_id = u.id) >= "+arg(f.MinResponseRate))
	}

	return strings.Join(conds, " AND "), args
}
