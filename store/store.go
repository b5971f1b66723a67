// Package store persists received messages and delivery reports in SQLite.
package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"i4.energy/across/atmodem/modem"
	"i4.energy/across/atmodem/pdu"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("store: not found")

// Message is a stored incoming SMS.
type Message struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	Sender     string    `gorm:"index" json:"sender"`
	Text       string    `json:"text"`
	SentAt     time.Time `json:"sent_at"`
	ReceivedAt time.Time `gorm:"index" json:"received_at"`
	// Indexes holds the modem storage slots of all parts, comma separated.
	Indexes string `json:"indexes"`
}

// Report is a stored delivery report.
type Report struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	Reference   int       `gorm:"index" json:"reference"`
	Recipient   string    `json:"recipient"`
	Status      int       `json:"status"`
	Delivered   bool      `json:"delivered"`
	DischargeAt time.Time `json:"discharge_at"`
	ReceivedAt  time.Time `json:"received_at"`
}

// Filter narrows a message listing. Zero values match everything; Offset
// applies only together with Limit.
type Filter struct {
	Sender string
	Since  time.Time
	Limit  int
	Offset int
}

// Store wraps the database handle.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database at path and migrates its tables.
func Open(path string, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Message{}, &Report{}); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	log.Info("Database initialized", "path", path)
	return &Store{db: db, logger: log, now: time.Now}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// SaveMessage stores a received message.
func (s *Store) SaveMessage(ctx context.Context, msg *modem.Message) (*Message, error) {
	row := &Message{
		Sender:     msg.Sender,
		Text:       msg.Text,
		SentAt:     msg.Time,
		ReceivedAt: s.now(),
		Indexes:    joinInts(msg.Indexes),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to save message: %w", err)
	}
	return row, nil
}

// SaveReport stores a delivery report.
func (s *Store) SaveReport(ctx context.Context, report *pdu.StatusReport) (*Report, error) {
	row := &Report{
		Reference:   report.Reference,
		Recipient:   report.Recipient,
		Status:      report.Status,
		Delivered:   report.Delivered(),
		DischargeAt: report.Discharge,
		ReceivedAt:  s.now(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	return row, nil
}

// Messages lists stored messages, newest first, with the total match count.
func (s *Store) Messages(ctx context.Context, filter Filter) ([]Message, int64, error) {
	query := s.db.WithContext(ctx).Model(&Message{})
	if filter.Sender != "" {
		query = query.Where("sender = ?", filter.Sender)
	}
	if !filter.Since.IsZero() {
		query = query.Where("received_at >= ?", filter.Since)
	}

	var total int64
	if err := query.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	if filter.Limit > 0 {
		query = query.Limit(filter.Limit).Offset(filter.Offset)
	}
	var messages []Message
	err := query.Order("received_at DESC").Order("id DESC").Find(&messages).Error
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query messages: %w", err)
	}
	return messages, total, nil
}

// Message returns the message with the given id.
func (s *Store) Message(ctx context.Context, id uint) (*Message, error) {
	var msg Message
	err := s.db.WithContext(ctx).First(&msg, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load message: %w", err)
	}
	return &msg, nil
}

// DeleteMessage removes the message with the given id.
func (s *Store) DeleteMessage(ctx context.Context, id uint) error {
	ret := s.db.WithContext(ctx).Delete(&Message{}, id)
	if ret.Error != nil {
		return fmt.Errorf("failed to delete message: %w", ret.Error)
	}
	if ret.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Reports returns the delivery reports for a message reference, oldest first.
func (s *Store) Reports(ctx context.Context, reference int) ([]Report, error) {
	var reports []Report
	err := s.db.WithContext(ctx).Where("reference = ?", reference).Order("id").Find(&reports).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query reports: %w", err)
	}
	return reports, nil
}

func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}
