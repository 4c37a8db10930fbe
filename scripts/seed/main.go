package main

import (
	"context"
	"flag"
	"log"
	"time"

	"activity-ledger/config"
	"activity-ledger/database"
	"activity-ledger/money"

	"github.com/google/uuid"
)

// Activities are created elsewhere in production. This script inserts a demo
// activity so the participation and bill endpoints can be exercised locally.
func main() {
	organizerID := flag.String("organizer", "", "organizer user ID (random if empty)")
	managerID := flag.String("manager", "", "extra manager user ID")
	title := flag.String("title", "Saturday badminton", "activity title")
	minParticipants := flag.Int("min", 3, "minimum participants")
	maxParticipants := flag.Int("max", 6, "maximum participants")
	requiresApproval := flag.Bool("approval", false, "registrations need manager approval")
	organizerCost := flag.String("organizer-cost", "20.00", "amount the organizer covers")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("Schema check failed: %v", err)
	}

	cost, err := money.Parse(*organizerCost)
	if err != nil || cost.IsNegative() {
		log.Fatalf("Invalid organizer cost %q", *organizerCost)
	}

	if *organizerID == "" {
		*organizerID = uuid.New().String()
	}
	activityID := uuid.New().String()
	deadline := time.Now().Add(7 * 24 * time.Hour)

	err = db.WithTx(ctx, func(q database.Querier) error {
		if _, err := q.Exec(ctx, `
			INSERT INTO activities (id, title, organizer_id, requires_approval, is_free,
			                        enable_participant_limit, min_participants, max_participants,
			                        organizer_cost, payment_deadline)
			VALUES ($1, $2, $3, $4, FALSE, TRUE, $5, $6, $7, $8)`,
			activityID, *title, *organizerID, *requiresApproval,
			*minParticipants, *maxParticipants, cost, deadline); err != nil {
			return err
		}

		managers := []string{*organizerID}
		if *managerID != "" && *managerID != *organizerID {
			managers = append(managers, *managerID)
		}
		for _, userID := range managers {
			if _, err := q.Exec(ctx,
				`INSERT INTO activity_managers (activity_id, user_id) VALUES ($1, $2)`,
				activityID, userID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("Failed to seed activity: %v", err)
	}

	log.Printf("✓ Seeded activity %q", *title)
	log.Printf("  activity_id:  %s", activityID)
	log.Printf("  organizer_id: %s", *organizerID)
	if *managerID != "" {
		log.Printf("  manager_id:   %s", *managerID)
	}
	log.Println("Generate a token with: go run ./scripts/generate_token -user <organizer_id>")
}
