package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"activity-ledger/config"
	"activity-ledger/database"
	apperrors "activity-ledger/errors"
	"activity-ledger/repository"
	"activity-ledger/services"
)

// Prints an activity's participants, the state of its latest bill and whether
// its application history chain is intact.
func main() {
	if len(os.Args) != 2 {
		log.Fatalf("usage: %s <activity-id>", os.Args[0])
	}
	activityID := os.Args[1]

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

	activity, err := repository.NewActivityRepository(db).GetByID(ctx, activityID)
	if err != nil {
		log.Fatalf("Failed to load activity: %v", err)
	}

	participants, err := repository.NewParticipantRepository(db).ListByActivity(ctx, activityID, nil)
	if err != nil {
		log.Fatalf("Failed to list participants: %v", err)
	}

	fmt.Printf("Activity: %s (%s)\n", activity.Title, activity.ID)
	fmt.Println("-------------------------")
	for _, p := range participants {
		fmt.Printf("%s | user %s | %-10s | ratio %s\n", p.ID, p.UserID, p.Status, p.Ratio)
	}

	history, err := repository.NewHistoryRepository(db).ListByActivity(ctx, activityID)
	if err != nil {
		log.Fatalf("Failed to list history: %v", err)
	}
	if err := services.ValidateChain(history); err != nil {
		fmt.Printf("\nHistory chain BROKEN: %v\n", err)
	} else {
		fmt.Printf("\nHistory chain ok (%d rows)\n", len(history))
	}

	bill, err := repository.NewBillRepository(db).GetLatest(ctx, activityID)
	if err != nil {
		if apperrors.IsNotFoundError(err) {
			fmt.Println("\nNo bill yet")
			return
		}
		log.Fatalf("Failed to load bill: %v", err)
	}

	fmt.Printf("\nBill %s [%s]\n", bill.ID, bill.Status)
	fmt.Printf("total %s | organizer %s | shared %s | per ratio %s\n",
		bill.TotalCost, bill.OrganizerCost, bill.ShareableTotal, bill.AverageCost)
	if bill.ComputationError != nil {
		fmt.Printf("computation error: %s\n", *bill.ComputationError)
	}
	for _, d := range bill.Details {
		fmt.Printf("  #%d %s | ratio %s | share %s\n", d.Position, d.ParticipantID, d.Ratio, d.ShareCost)
	}
}
