// Package storage - swap repository: the authoritative, atomic map of
// cross-chain swap sessions.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Swap repository errors.
var (
	ErrSwapNotFound     = errors.New("swap not found")
	ErrSwapExists       = errors.New("swap already exists")
	ErrInvalidSwapState = errors.New("invalid swap state transition")
)

// Status is a swap session's lifecycle state.
type Status string

const (
	StatusPending           Status = "PENDING"
	StatusSourceLocked       Status = "SOURCE_LOCKED"
	StatusBothLocked         Status = "BOTH_LOCKED"
	StatusPreimageRevealed   Status = "PREIMAGE_REVEALED"
	StatusCompleted          Status = "COMPLETED"
	StatusRefunded           Status = "REFUNDED"
	StatusFailed             Status = "FAILED"
)

// allowedTransitions is the status transition policy from §4.2. Absorbing
// terminal states have no outgoing edges.
var allowedTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusSourceLocked: true,
		StatusFailed:       true,
		StatusRefunded:     true,
	},
	StatusSourceLocked: {
		StatusBothLocked: true,
		StatusRefunded:   true,
		StatusFailed:     true,
	},
	StatusBothLocked: {
		StatusPreimageRevealed: true,
		StatusRefunded:         true,
		StatusFailed:           true,
	},
	StatusPreimageRevealed: {
		StatusCompleted: true,
		StatusFailed:    true,
	},
	StatusCompleted: {},
	StatusRefunded:  {},
	StatusFailed:    {},
}

// IsTerminal reports whether a status is absorbing.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRefunded || s == StatusFailed
}

// CanTransition reports whether the transition from s to next is legal.
func (s Status) CanTransition(next Status) bool {
	if s == next {
		return true
	}
	edges, ok := allowedTransitions[s]
	return ok && edges[next]
}

// Swap is the root persisted entity: one per atomic cross-chain swap.
type Swap struct {
	SwapID string `json:"swap_id"`

	Initiator string `json:"initiator"`
	Receiver  string `json:"receiver"`

	EVMContractID  *string `json:"evm_contract_id,omitempty"`
	MoveContractID *string `json:"move_contract_id,omitempty"`

	Hashlock string  `json:"hashlock"`
	Preimage *string `json:"preimage,omitempty"`

	Amount      string `json:"amount"`
	TokenSource string `json:"token_source"`
	TokenTarget string `json:"token_target"`

	TimelockSeconds int64     `json:"timelock_unix_seconds"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	ExpiresAt       time.Time `json:"expires_at"`

	Status Status `json:"status"`

	RetryCount    int      `json:"retry_count"`
	MaxRetries    int      `json:"max_retries"`
	ErrorMessages []string `json:"error_messages"`

	SourceTxHash string  `json:"source_tx_hash"`
	TargetTxHash *string `json:"target_tx_hash,omitempty"`
	RefundTxHash *string `json:"refund_tx_hash,omitempty"`
}

// CreateIfAbsent inserts swap if no row with its swap_id exists yet.
// Returns created=false (and the existing row untouched) if it already
// exists; callers that need the existing row should Load separately.
func (s *Storage) CreateIfAbsent(swap *Swap) (created bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if swap.CreatedAt.IsZero() {
		swap.CreatedAt = now
	}
	swap.UpdatedAt = now
	if swap.MaxRetries == 0 {
		swap.MaxRetries = 3
	}
	if swap.ErrorMessages == nil {
		swap.ErrorMessages = []string{}
	}

	errMsgs, err := json.Marshal(swap.ErrorMessages)
	if err != nil {
		return false, fmt.Errorf("marshal error_messages: %w", err)
	}

	res, err := s.db.Exec(`
		INSERT INTO swaps (
			swap_id, initiator, receiver, evm_contract_id, move_contract_id,
			hashlock, preimage, amount, token_source, token_target,
			timelock_unix_seconds, created_at, updated_at, expires_at, status,
			retry_count, max_retries, error_messages,
			source_tx_hash, target_tx_hash, refund_tx_hash
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(swap_id) DO NOTHING
	`,
		swap.SwapID, swap.Initiator, swap.Receiver, swap.EVMContractID, swap.MoveContractID,
		swap.Hashlock, swap.Preimage, swap.Amount, swap.TokenSource, swap.TokenTarget,
		swap.TimelockSeconds, swap.CreatedAt.Unix(), swap.UpdatedAt.Unix(), swap.ExpiresAt.Unix(), string(swap.Status),
		swap.RetryCount, swap.MaxRetries, string(errMsgs),
		swap.SourceTxHash, swap.TargetTxHash, swap.RefundTxHash,
	)
	if err != nil {
		return false, fmt.Errorf("insert swap: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Load retrieves a swap by its swap_id.
func (s *Storage) Load(swapID string) (*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanSwapRow(s.db.QueryRow(selectSwapQuery+" WHERE swap_id = ?", swapID))
}

// FindByHashlock retrieves a swap by its unique hashlock.
func (s *Storage) FindByHashlock(hashlock string) (*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return scanSwapRow(s.db.QueryRow(selectSwapQuery+" WHERE hashlock = ?", hashlock))
}

// FindByContract retrieves a swap by the contract id observed on one chain.
func (s *Storage) FindByContract(chain, contractID string) (*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	col := "evm_contract_id"
	if chain == "move" {
		col = "move_contract_id"
	}
	return scanSwapRow(s.db.QueryRow(selectSwapQuery+" WHERE "+col+" = ?", contractID))
}

// Update performs an optimistic read-modify-write against a single swap_id:
// it loads the current row, applies mutate, rejects illegal status
// transitions and mutations of terminal swaps beyond error_messages, and
// writes the result back in the same critical section. Only the mutable
// columns are written (contract ids, preimage, amount, token_target, status,
// retry_count, error_messages, target/refund tx hashes, updated_at); changes
// a mutator makes to any other field, source_tx_hash included, are not stored.
func (s *Storage) Update(swapID string, mutate func(*Swap) error) (*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := scanSwapRow(s.db.QueryRow(selectSwapQuery+" WHERE swap_id = ?", swapID))
	if err != nil {
		return nil, err
	}

	before := *current
	if err := mutate(current); err != nil {
		return nil, err
	}

	if !before.Status.CanTransition(current.Status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidSwapState, before.Status, current.Status)
	}
	if before.Status.IsTerminal() && current.Status == before.Status {
		// Terminal swaps may only append error_messages; every other field
		// must be unchanged by the caller's mutator.
		current.EVMContractID = before.EVMContractID
		current.MoveContractID = before.MoveContractID
		current.Preimage = before.Preimage
		current.Amount = before.Amount
		current.TokenTarget = before.TokenTarget
		current.TargetTxHash = before.TargetTxHash
		current.RefundTxHash = before.RefundTxHash
		current.RetryCount = before.RetryCount
	}

	current.UpdatedAt = time.Now()
	if current.UpdatedAt.Before(before.UpdatedAt) {
		current.UpdatedAt = before.UpdatedAt
	}

	errMsgs, err := json.Marshal(current.ErrorMessages)
	if err != nil {
		return nil, fmt.Errorf("marshal error_messages: %w", err)
	}

	_, err = s.db.Exec(`
		UPDATE swaps SET
			evm_contract_id = ?, move_contract_id = ?, preimage = ?, amount = ?,
			token_target = ?, status = ?, retry_count = ?, error_messages = ?,
			target_tx_hash = ?, refund_tx_hash = ?, updated_at = ?
		WHERE swap_id = ?
	`,
		current.EVMContractID, current.MoveContractID, current.Preimage, current.Amount,
		current.TokenTarget, string(current.Status), current.RetryCount, string(errMsgs),
		current.TargetTxHash, current.RefundTxHash, current.UpdatedAt.Unix(),
		swapID,
	)
	if err != nil {
		return nil, fmt.Errorf("update swap: %w", err)
	}

	return current, nil
}

// ExpireScan returns the swap_ids of non-terminal swaps whose expires_at has
// passed as of now.
func (s *Storage) ExpireScan(now time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT swap_id FROM swaps
		WHERE status NOT IN (?, ?, ?) AND expires_at <= ?
	`, string(StatusCompleted), string(StatusRefunded), string(StatusFailed), now.Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByStatus lists swaps with an optional status filter, most recently
// updated first, for the push hub's get_swaps query and the admin surface.
func (s *Storage) ListByStatus(status *Status, limit int) ([]*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := selectSwapQuery
	args := []interface{}{}
	if status != nil {
		query += " WHERE status = ?"
		args = append(args, string(*status))
	}
	query += " ORDER BY updated_at DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*Swap
	for rows.Next() {
		sw, err := scanSwapRows(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}

// LoadNonTerminal returns every swap not yet in a terminal state.
func (s *Storage) LoadNonTerminal() ([]*Swap, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(selectSwapQuery+" WHERE status NOT IN (?, ?, ?)",
		string(StatusCompleted), string(StatusRefunded), string(StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var swaps []*Swap
	for rows.Next() {
		sw, err := scanSwapRows(rows)
		if err != nil {
			return nil, err
		}
		swaps = append(swaps, sw)
	}
	return swaps, rows.Err()
}

const selectSwapQuery = `
	SELECT swap_id, initiator, receiver, evm_contract_id, move_contract_id,
		hashlock, preimage, amount, token_source, token_target,
		timelock_unix_seconds, created_at, updated_at, expires_at, status,
		retry_count, max_retries, error_messages,
		source_tx_hash, target_tx_hash, refund_tx_hash
	FROM swaps
`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSwapRow(row *sql.Row) (*Swap, error) {
	sw, err := scanSwap(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSwapNotFound
	}
	return sw, err
}

func scanSwapRows(rows *sql.Rows) (*Swap, error) {
	return scanSwap(rows)
}

func scanSwap(r rowScanner) (*Swap, error) {
	var sw Swap
	var createdAt, updatedAt, expiresAt int64
	var status, errMsgs string

	if err := r.Scan(
		&sw.SwapID, &sw.Initiator, &sw.Receiver, &sw.EVMContractID, &sw.MoveContractID,
		&sw.Hashlock, &sw.Preimage, &sw.Amount, &sw.TokenSource, &sw.TokenTarget,
		&sw.TimelockSeconds, &createdAt, &updatedAt, &expiresAt, &status,
		&sw.RetryCount, &sw.MaxRetries, &errMsgs,
		&sw.SourceTxHash, &sw.TargetTxHash, &sw.RefundTxHash,
	); err != nil {
		return nil, err
	}

	sw.CreatedAt = time.Unix(createdAt, 0).UTC()
	sw.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	sw.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sw.Status = Status(status)

	if err := json.Unmarshal([]byte(errMsgs), &sw.ErrorMessages); err != nil {
		sw.ErrorMessages = nil
	}

	return &sw, nil
}
