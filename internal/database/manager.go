package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	dbconfig "securechat/pkg/database"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// Manager implements the DatabaseManager interface
type Manager struct {
	db           *sql.DB
	config       *dbconfig.Config
	log          *slog.Logger
	writeChannel chan writeOperation // TECHNICAL: Single-writer pattern for SQLite
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex // TECHNICAL: Protect closed status
}

// writeOperation represents a database write operation
type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

// NewManager opens the database and starts the writer goroutine
func NewManager(config *dbconfig.Config, log *slog.Logger) (*Manager, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	db, err := sql.Open("sqlite3", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// FUNCTIONAL DISCOVERY: Connection pool configuration critical for concurrent reads
	db.SetMaxOpenConns(config.MaxConnections)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	for _, pragma := range dbconfig.SQLitePragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute pragma %s: %w", pragma, err)
		}
	}

	manager := &Manager{
		db:           db,
		config:       config,
		log:          log,
		writeChannel: make(chan writeOperation, 100), // TECHNICAL: Buffer for write operations prevents blocking
		shutdown:     make(chan struct{}),
	}

	// ARCHITECTURAL DISCOVERY: Single-writer goroutine prevents SQLite write contention
	// and gives every append a total commit order
	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

// writeLoop processes all write operations in a single goroutine
func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			op.result <- m.runWithRetry(op.operation)

		case <-m.shutdown:
			// Drain whatever was queued before Close so no caller waits forever
			for {
				select {
				case op := <-m.writeChannel:
					op.result <- m.runWithRetry(op.operation)
				default:
					m.log.Info("Database write loop shutting down")
					return
				}
			}
		}
	}
}

// runWithRetry retries a failed write once after RetryDelay. Constraint
// violations and caller cancellation are final and are not retried.
// TECHNICAL DISCOVERY: The sleep runs on the only writer goroutine, so a retry
// that cannot succeed stalls every queued write behind it
func (m *Manager) runWithRetry(operation func(*sql.DB) error) error {
	err := operation(m.db)
	if err == nil || isConstraintError(err) || isContextError(err) {
		return err
	}

	m.log.Warn("Database write failed, retrying", "delay", m.config.RetryDelay, "error", err)
	time.Sleep(m.config.RetryDelay)

	if err = operation(m.db); err != nil {
		m.log.Error("Database write failed after retry", "error", err)
	}
	return err
}

// executeWrite queues a write operation and waits for completion
// TECHNICAL DISCOVERY: Once queued the caller waits for the writer's verdict;
// abandoning it could report failure for a row that did commit
func (m *Manager) executeWrite(ctx context.Context, operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}

	result := make(chan error, 1)
	timer := time.NewTimer(m.config.WriteTimeout)
	defer timer.Stop()

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		m.mu.RUnlock()
		return <-result
	case <-timer.C:
		m.mu.RUnlock()
		return ErrWriteTimeout
	case <-ctx.Done():
		m.mu.RUnlock()
		return ctx.Err()
	}
}

// AppendMessage durably stores one encrypted chat message
// FUNCTIONAL DISCOVERY: Timestamp is taken inside the writer and clamped to the
// previous row so timestamp order never disagrees with id order
func (m *Manager) AppendMessage(ctx context.Context, username, location, ciphertext string) (*types.ChatMessage, error) {
	message := &types.ChatMessage{
		Username:   username,
		Location:   location,
		Ciphertext: ciphertext,
	}

	err := m.executeWrite(ctx, func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer func() { _ = tx.Rollback() }() // TECHNICAL: Always rollback unless commit succeeds

		timestamp := time.Now().UTC()
		var last sql.NullTime
		err = tx.QueryRowContext(ctx, `SELECT timestamp FROM messages ORDER BY id DESC LIMIT 1`).Scan(&last)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("failed to read last timestamp: %w", err)
		}
		if last.Valid && last.Time.After(timestamp) {
			timestamp = last.Time.UTC()
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO messages (username, location, ciphertext, timestamp) VALUES (?, ?, ?, ?)`,
			username, location, ciphertext, timestamp,
		)
		if err != nil {
			return fmt.Errorf("failed to insert message: %w", err)
		}

		id, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to read message id: %w", err)
		}

		if err = tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit message: %w", err)
		}

		message.ID = id
		message.Timestamp = timestamp
		return nil
	})
	if err != nil {
		return nil, &StoreError{Op: "append", Err: err}
	}

	return message, nil
}

// ListMessages returns the whole log in commit order
// ARCHITECTURAL DISCOVERY: Read operations can be concurrent - no need for writeChannel
func (m *Manager) ListMessages(ctx context.Context) ([]*types.ChatMessage, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, username, location, ciphertext, timestamp
		FROM messages
		ORDER BY timestamp ASC, id ASC
	`)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var messages []*types.ChatMessage
	for rows.Next() {
		var message types.ChatMessage
		if err := rows.Scan(
			&message.ID,
			&message.Username,
			&message.Location,
			&message.Ciphertext,
			&message.Timestamp,
		); err != nil {
			return nil, &StoreError{Op: "list", Err: fmt.Errorf("failed to scan message row: %w", err)}
		}
		message.Timestamp = message.Timestamp.UTC()
		messages = append(messages, &message)
	}

	if err = rows.Err(); err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}

	return messages, nil
}

// CreateUser inserts an account and fills in its id
func (m *Manager) CreateUser(ctx context.Context, user *types.User) error {
	err := m.executeWrite(ctx, func(db *sql.DB) error {
		createdAt := time.Now().UTC()
		res, err := db.ExecContext(ctx,
			`INSERT INTO users (username, email, password_hash, created_at) VALUES (?, ?, ?, ?)`,
			user.Username, user.Email, user.PasswordHash, createdAt,
		)
		if err != nil {
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		user.ID = id
		user.CreatedAt = createdAt
		return nil
	})
	if err != nil {
		if isConstraintError(err) {
			return interfaces.ErrDuplicateUser
		}
		return &StoreError{Op: "create user", Err: err}
	}
	return nil
}

// GetUserByUsername returns interfaces.ErrUserNotFound when no row matches
func (m *Manager) GetUserByUsername(ctx context.Context, username string) (*types.User, error) {
	var user types.User
	err := m.db.QueryRowContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users WHERE username = ?`,
		username,
	).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, interfaces.ErrUserNotFound
		}
		return nil, &StoreError{Op: "get user", Err: err}
	}
	return &user, nil
}

// ListUsers returns every account ordered by id
func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	rows, err := m.db.QueryContext(ctx,
		`SELECT id, username, email, password_hash, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, &StoreError{Op: "list users", Err: err}
	}
	defer func() { _ = rows.Close() }()

	var users []*types.User
	for rows.Next() {
		var user types.User
		if err := rows.Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.CreatedAt); err != nil {
			return nil, &StoreError{Op: "list users", Err: err}
		}
		users = append(users, &user)
	}
	if err := rows.Err(); err != nil {
		return nil, &StoreError{Op: "list users", Err: err}
	}
	return users, nil
}

// HealthCheck validates database connectivity
func (m *Manager) HealthCheck(ctx context.Context) error {
	if err := m.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}

	return nil
}

// GetDB returns the underlying database connection for migrations
func (m *Manager) GetDB() *sql.DB {
	return m.db
}

// Close shuts down the database manager
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil // Already closed
	}
	m.closed = true
	m.mu.Unlock()

	// ARCHITECTURAL DISCOVERY: Graceful shutdown requires careful goroutine coordination
	close(m.shutdown)
	m.wg.Wait()

	if err := m.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	return nil
}

// isConstraintError reports UNIQUE/CHECK/NOT NULL violations
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return strings.Contains(err.Error(), "constraint failed")
}
