package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tanamio/dashboard/internal/db"
	"github.com/tanamio/dashboard/internal/models"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, errOpen := db.Open(":memory:")
	if errOpen != nil {
		t.Fatalf("open test db: %v", errOpen)
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		t.Fatalf("migrate test db: %v", errMigrate)
	}
	return conn
}

func TestReconcileSignedSum(t *testing.T) {
	entries := []models.Transaction{
		{Type: models.TransactionTypeTopup, Amount: 50000},
		{Type: models.TransactionTypeUsage, Amount: 20000},
	}
	if got := Reconcile(entries); got != 30000 {
		t.Fatalf("reconcile = %d, want 30000", got)
	}
}

func TestReconcileEmpty(t *testing.T) {
	if got := Reconcile(nil); got != 0 {
		t.Fatalf("reconcile(nil) = %d, want 0", got)
	}
	if got := Reconcile([]models.Transaction{}); got != 0 {
		t.Fatalf("reconcile([]) = %d, want 0", got)
	}
}

func TestReconcileIsPure(t *testing.T) {
	entries := []models.Transaction{
		{Type: models.TransactionTypeTopup, Amount: 75000},
		{Type: models.TransactionTypeUsage, Amount: 5000},
		{Type: models.TransactionTypeUsage, Amount: 10000},
	}

	first := Reconcile(entries)
	second := Reconcile(entries)
	if first != second {
		t.Fatalf("reconcile not idempotent: %d != %d", first, second)
	}
	// The fold must not mutate its input.
	if entries[0].Amount != 75000 || entries[1].Amount != 5000 || entries[2].Amount != 10000 {
		t.Fatal("reconcile mutated its input")
	}
}

func TestReconcileOrderIndependent(t *testing.T) {
	forward := []models.Transaction{
		{Type: models.TransactionTypeTopup, Amount: 50000},
		{Type: models.TransactionTypeUsage, Amount: 20000},
		{Type: models.TransactionTypeTopup, Amount: 1000},
	}
	reversed := []models.Transaction{forward[2], forward[1], forward[0]}

	if Reconcile(forward) != Reconcile(reversed) {
		t.Fatal("reconcile must not depend on entry order")
	}
}

func TestReconcileCoercesMalformedEntries(t *testing.T) {
	entries := []models.Transaction{
		{Type: models.TransactionTypeTopup, Amount: 50000},
		{Type: models.TransactionTypeTopup, Amount: -9999}, // treated as 0
		{Type: "refund", Amount: 12345},                    // unknown type, ignored
		{Type: models.TransactionTypeUsage, Amount: 20000},
	}
	if got := Reconcile(entries); got != 30000 {
		t.Fatalf("reconcile = %d, want 30000", got)
	}
}

func TestReadMissingBalance(t *testing.T) {
	conn := openTestDB(t)
	reader := NewReader(conn)

	result, errRead := reader.Read(context.Background(), uuid.NewString())
	if errRead != nil {
		t.Fatalf("read: %v", errRead)
	}
	if result.HadRecord {
		t.Fatal("missing row must report HadRecord=false")
	}
	if result.Balance != 0 {
		t.Fatalf("balance = %d, want 0", result.Balance)
	}
}

func TestReadReconciledPersistsOnce(t *testing.T) {
	conn := openTestDB(t)
	reader := NewReader(conn)
	userID := uuid.NewString()

	entries := []models.Transaction{
		{ID: uuid.NewString(), UserID: userID, Type: models.TransactionTypeTopup, Amount: 50000},
		{ID: uuid.NewString(), UserID: userID, Type: models.TransactionTypeUsage, Amount: 20000},
	}
	if errSeed := conn.Create(&entries).Error; errSeed != nil {
		t.Fatalf("seed transactions: %v", errSeed)
	}

	balance, errFirst := reader.ReadReconciled(context.Background(), userID)
	if errFirst != nil {
		t.Fatalf("first read: %v", errFirst)
	}
	if balance != 30000 {
		t.Fatalf("balance = %d, want 30000", balance)
	}

	// The second read hits the cached row; neither call may leave more
	// than one balance row behind.
	again, errSecond := reader.ReadReconciled(context.Background(), userID)
	if errSecond != nil {
		t.Fatalf("second read: %v", errSecond)
	}
	if again != 30000 {
		t.Fatalf("cached balance = %d, want 30000", again)
	}

	var count int64
	if errCount := conn.Model(&models.Balance{}).Where("user_id = ?", userID).Count(&count).Error; errCount != nil {
		t.Fatalf("count balances: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("balance rows = %d, want 1", count)
	}
}

func TestUpsertBalanceReplaces(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()

	if errFirst := UpsertBalance(context.Background(), conn, userID, 10000); errFirst != nil {
		t.Fatalf("first upsert: %v", errFirst)
	}
	if errSecond := UpsertBalance(context.Background(), conn, userID, 25000); errSecond != nil {
		t.Fatalf("second upsert: %v", errSecond)
	}

	var row models.Balance
	if errFind := conn.Where("user_id = ?", userID).First(&row).Error; errFind != nil {
		t.Fatalf("read balance: %v", errFind)
	}
	if row.Balance != 25000 {
		t.Fatalf("balance = %d, want 25000", row.Balance)
	}

	var count int64
	if errCount := conn.Model(&models.Balance{}).Where("user_id = ?", userID).Count(&count).Error; errCount != nil {
		t.Fatalf("count balances: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("balance rows = %d, want 1", count)
	}
}

func TestIdempotencyKeyDeterministic(t *testing.T) {
	at := time.Date(2026, 8, 31, 14, 25, 7, 0, time.UTC)
	sameHour := time.Date(2026, 8, 31, 14, 59, 59, 0, time.UTC)
	nextHour := time.Date(2026, 8, 31, 15, 0, 0, 0, time.UTC)

	key := IdempotencyKey("chatbot/create", "support-bot", at)
	if key != IdempotencyKey("chatbot/create", "support-bot", sameHour) {
		t.Fatal("keys within the same hour bucket must match")
	}
	if key == IdempotencyKey("chatbot/create", "support-bot", nextHour) {
		t.Fatal("keys across hour buckets must differ")
	}
	if key == IdempotencyKey("chatbot/create", "other-bot", at) {
		t.Fatal("keys for different targets must differ")
	}
	if len(key) != 64 {
		t.Fatalf("key length = %d, want 64", len(key))
	}
}

func TestRecordUsageAppliesOnce(t *testing.T) {
	conn := openTestDB(t)
	userID := uuid.NewString()

	seed := models.Transaction{ID: uuid.NewString(), UserID: userID, Type: models.TransactionTypeTopup, Amount: 100000}
	if errSeed := conn.Create(&seed).Error; errSeed != nil {
		t.Fatalf("seed topup: %v", errSeed)
	}

	comp := NewCompensator(conn)
	fixed := time.Date(2026, 8, 31, 14, 25, 0, 0, time.UTC)
	comp.now = func() time.Time { return fixed }

	applied, errFirst := comp.RecordUsage(context.Background(), userID, 50000, "Monthly bot fee", "chatbot/create", "support-bot")
	if errFirst != nil {
		t.Fatalf("first record: %v", errFirst)
	}
	if !applied {
		t.Fatal("first record must apply")
	}

	// A retry inside the same hour bucket collides on the key.
	applied, errSecond := comp.RecordUsage(context.Background(), userID, 50000, "Monthly bot fee", "chatbot/create", "support-bot")
	if errSecond != nil {
		t.Fatalf("second record: %v", errSecond)
	}
	if applied {
		t.Fatal("retry must be dropped")
	}

	var count int64
	if errCount := conn.Model(&models.Transaction{}).
		Where("user_id = ? AND type = ?", userID, models.TransactionTypeUsage).
		Count(&count).Error; errCount != nil {
		t.Fatalf("count usage entries: %v", errCount)
	}
	if count != 1 {
		t.Fatalf("usage entries = %d, want 1", count)
	}

	var row models.Balance
	if errFind := conn.Where("user_id = ?", userID).First(&row).Error; errFind != nil {
		t.Fatalf("read balance: %v", errFind)
	}
	if row.Balance != 50000 {
		t.Fatalf("balance = %d, want 50000", row.Balance)
	}
}
