package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/homeworks-core/internal/homeworks"
	"github.com/nerrad567/homeworks-core/internal/infrastructure/database"
)

// Store is the SQLite-backed device registry.
type Store struct {
	db *database.DB
}

// New creates a store over an open database. Migrations must have been
// applied before use.
func New(db *database.DB) *Store {
	return &Store{db: db}
}

// CreateCCO inserts a new relay device. A UUID is assigned if the ID is
// empty. Returns ErrExists when the address/button pair is already
// registered.
func (s *Store) CreateCCO(ctx context.Context, d *homeworks.CCODevice) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	var existing int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM cco_devices WHERE addr = ? AND button = ?",
		d.Addr.String(), d.Button,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking existing relay: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", ErrExists, d.Key())
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cco_devices (id, name, addr, button, kind, inverted, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.Addr.String(), d.Button, string(d.Kind), boolToInt(d.Inverted), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting relay: %w", err)
	}
	return nil
}

// GetCCO retrieves a relay device by ID.
func (s *Store) GetCCO(ctx context.Context, id string) (*homeworks.CCODevice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, addr, button, kind, inverted
		FROM cco_devices WHERE id = ?`, id)

	d, err := scanCCO(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying relay: %w", err)
	}
	return d, nil
}

// ListCCO retrieves all relay devices ordered by name.
func (s *Store) ListCCO(ctx context.Context) ([]homeworks.CCODevice, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, addr, button, kind, inverted
		FROM cco_devices ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("querying relays: %w", err)
	}
	defer rows.Close()

	var devices []homeworks.CCODevice
	for rows.Next() {
		d, err := scanCCO(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning relay: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating relays: %w", err)
	}
	return devices, nil
}

// UpdateCCO modifies an existing relay device. The address/button pair is
// immutable; only name, kind, and inverted may change.
func (s *Store) UpdateCCO(ctx context.Context, d *homeworks.CCODevice) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE cco_devices SET name = ?, kind = ?, inverted = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, string(d.Kind), boolToInt(d.Inverted), now, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating relay: %w", err)
	}
	return requireRow(result, d.ID)
}

// DeleteCCO removes a relay device by ID.
func (s *Store) DeleteCCO(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM cco_devices WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting relay: %w", err)
	}
	return requireRow(result, id)
}

// CreateDimmer inserts a new dimmer zone. A UUID is assigned if the ID is
// empty. Returns ErrExists when the address is already registered.
func (s *Store) CreateDimmer(ctx context.Context, d *homeworks.DimmerDevice) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}

	norm, err := homeworks.NormalizeAddress(d.Addr)
	if err != nil {
		return err
	}
	d.Addr = norm

	var existing int
	err = s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM dimmers WHERE addr = ?", norm,
	).Scan(&existing)
	if err != nil {
		return fmt.Errorf("checking existing dimmer: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("%w: %s", ErrExists, norm)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO dimmers (id, name, addr, poll, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, norm, boolToInt(d.Poll), now, now,
	)
	if err != nil {
		return fmt.Errorf("inserting dimmer: %w", err)
	}
	return nil
}

// GetDimmer retrieves a dimmer zone by ID.
func (s *Store) GetDimmer(ctx context.Context, id string) (*homeworks.DimmerDevice, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT id, name, addr, poll FROM dimmers WHERE id = ?", id)

	d, err := scanDimmer(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("querying dimmer: %w", err)
	}
	return d, nil
}

// ListDimmers retrieves all dimmer zones ordered by name.
func (s *Store) ListDimmers(ctx context.Context) ([]homeworks.DimmerDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, addr, poll FROM dimmers ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("querying dimmers: %w", err)
	}
	defer rows.Close()

	var devices []homeworks.DimmerDevice
	for rows.Next() {
		d, err := scanDimmer(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning dimmer: %w", err)
		}
		devices = append(devices, *d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating dimmers: %w", err)
	}
	return devices, nil
}

// UpdateDimmer modifies an existing dimmer zone. The address is immutable;
// only name and poll may change.
func (s *Store) UpdateDimmer(ctx context.Context, d *homeworks.DimmerDevice) error {
	now := time.Now().UTC().Format(time.RFC3339)
	result, err := s.db.ExecContext(ctx, `
		UPDATE dimmers SET name = ?, poll = ?, updated_at = ?
		WHERE id = ?`,
		d.Name, boolToInt(d.Poll), now, d.ID,
	)
	if err != nil {
		return fmt.Errorf("updating dimmer: %w", err)
	}
	return requireRow(result, d.ID)
}

// DeleteDimmer removes a dimmer zone by ID.
func (s *Store) DeleteDimmer(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM dimmers WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting dimmer: %w", err)
	}
	return requireRow(result, id)
}

// Seed inserts config-defined devices that are not yet in the store.
// Devices are matched by address so repeated startups do not duplicate
// them. Existing rows keep any edits made through the API.
func (s *Store) Seed(ctx context.Context, ccos []homeworks.CCODevice, dimmers []homeworks.DimmerDevice) error {
	for i := range ccos {
		err := s.CreateCCO(ctx, &ccos[i])
		if err != nil && !errors.Is(err, ErrExists) {
			return err
		}
	}
	for i := range dimmers {
		err := s.CreateDimmer(ctx, &dimmers[i])
		if err != nil && !errors.Is(err, ErrExists) {
			return err
		}
	}
	return nil
}

// LoadCCODevices returns all persisted relay devices. It satisfies the
// engine's DeviceStore interface.
func (s *Store) LoadCCODevices(ctx context.Context) ([]homeworks.CCODevice, error) {
	return s.ListCCO(ctx)
}

// LoadDimmers returns all persisted dimmer zones. It satisfies the
// engine's DeviceStore interface.
func (s *Store) LoadDimmers(ctx context.Context) ([]homeworks.DimmerDevice, error) {
	return s.ListDimmers(ctx)
}

// SaveCCOState records the last derived state for a relay. Unregistered
// keys are ignored so transient devices do not error the pipeline.
func (s *Store) SaveCCOState(ctx context.Context, key string, state homeworks.RelayState, at time.Time) error {
	addr, button, err := splitDeviceKey(key)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		UPDATE cco_devices SET last_state = ?, state_updated_at = ?
		WHERE addr = ? AND button = ?`,
		state.String(), at.UTC().Format(time.RFC3339), addr, button,
	)
	if err != nil {
		return fmt.Errorf("saving relay state: %w", err)
	}
	return nil
}

// SaveDimmerLevel records the last observed level for a zone. Unregistered
// addresses are ignored.
func (s *Store) SaveDimmerLevel(ctx context.Context, addr string, level float64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE dimmers SET last_level = ?, level_updated_at = ?
		WHERE addr = ?`,
		level, at.UTC().Format(time.RFC3339), addr,
	)
	if err != nil {
		return fmt.Errorf("saving dimmer level: %w", err)
	}
	return nil
}

// splitDeviceKey splits "[pp:ll:aa]-button" into address and button.
func splitDeviceKey(key string) (addr string, button int, err error) {
	idx := strings.LastIndex(key, "-")
	if idx < 1 || idx == len(key)-1 {
		return "", 0, fmt.Errorf("store: malformed device key %q", key)
	}
	button, err = strconv.Atoi(key[idx+1:])
	if err != nil {
		return "", 0, fmt.Errorf("store: malformed device key %q", key)
	}
	return key[:idx], button, nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCCO(row scanner) (*homeworks.CCODevice, error) {
	var d homeworks.CCODevice
	var addr, kind string
	var inverted int

	if err := row.Scan(&d.ID, &d.Name, &addr, &d.Button, &kind, &inverted); err != nil {
		return nil, err
	}

	parsed, err := homeworks.ParseAddress(addr)
	if err != nil {
		return nil, fmt.Errorf("stored address %q: %w", addr, err)
	}
	d.Addr = parsed
	d.Kind = homeworks.DeviceKind(kind)
	d.Inverted = inverted != 0
	return &d, nil
}

func scanDimmer(row scanner) (*homeworks.DimmerDevice, error) {
	var d homeworks.DimmerDevice
	var poll int

	if err := row.Scan(&d.ID, &d.Name, &d.Addr, &poll); err != nil {
		return nil, err
	}
	d.Poll = poll != 0
	return &d, nil
}

// requireRow maps a zero-row result to ErrNotFound.
func requireRow(result sql.Result, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
