// Seed inserts a demo dataset for local development: an administrator, a
// handful of student accounts with active enrollments, two courses, and an
// active contract template. Run it once against a migrated database.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/siga-edu/siga-api/pkg/config"
	"github.com/siga-edu/siga-api/pkg/database"
)

const defaultPassword = "changeme123"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	if err := seed(ctx, db); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	log.Printf("seed complete; all accounts use password %q", defaultPassword)
}

func seed(ctx context.Context, db *sqlx.DB) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(defaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	adminID := uuid.NewString()
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, 'ADMIN', true, $5, $5)
		 ON CONFLICT (email) DO NOTHING`,
		adminID, "admin@siga.local", string(hash), "Administrator", now); err != nil {
		return err
	}

	var templateID int64
	if err = tx.GetContext(ctx, &templateID,
		`INSERT INTO contract_templates (name, body, active, created_at, updated_at)
		 VALUES ($1, $2, true, $3, $3)
		 RETURNING id`,
		"Standard enrollment contract",
		"I, {{student_name}} ({{registration}}), confirm my enrollment in {{course_name}} for {{semester}}/{{year}}.",
		now); err != nil {
		return err
	}

	courseIDs := make([]int64, 0, 2)
	for _, course := range []struct {
		code, name string
		semesters  int
	}{
		{"ADS", "Systems Analysis and Development", 6},
		{"ENG", "Software Engineering", 8},
	} {
		var id int64
		if err = tx.GetContext(ctx, &id,
			`INSERT INTO courses (code, name, semesters, active, created_at, updated_at)
			 VALUES ($1, $2, $3, true, $4, $4)
			 RETURNING id`,
			course.code, course.name, course.semesters, now); err != nil {
			return err
		}
		courseIDs = append(courseIDs, id)
	}

	names := []string{"Ana Souza", "Bruno Lima", "Carla Mendes", "Diego Alves", "Elisa Rocha"}
	for i, name := range names {
		userID := uuid.NewString()
		email := fmt.Sprintf("student%d@siga.local", i+1)
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO users (id, email, password_hash, full_name, role, active, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, 'STUDENT', true, $5, $5)`,
			userID, email, string(hash), name, now); err != nil {
			return err
		}

		var studentID int64
		registration := fmt.Sprintf("%d-%04d", now.Year(), i+1)
		if err = tx.GetContext(ctx, &studentID,
			`INSERT INTO students (user_id, registration, full_name, active, created_at, updated_at)
			 VALUES ($1, $2, $3, true, $4, $4)
			 RETURNING id`,
			userID, registration, name, now); err != nil {
			return err
		}

		if _, err = tx.ExecContext(ctx,
			`INSERT INTO enrollments (student_id, course_id, status, enrollment_date, current_semester, created_at, updated_at)
			 VALUES ($1, $2, 'active', $3, 1, $3, $3)`,
			studentID, courseIDs[i%len(courseIDs)], now); err != nil {
			return err
		}
	}

	return tx.Commit()
}
