package access

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/solar-controller-core/internal/infrastructure/database"
)

// Store defines the persistence operations the coordinator relies on.
type Store interface {
	ClaimDevice(ctx context.Context, userID, deviceID, defaultName string) (LinkedDevice, bool, error)
	ShareDevice(ctx context.Context, ownerID, deviceID, targetEmail string) (User, error)
	RemoveAccess(ctx context.Context, userID, deviceID string) (bool, error)
	HasAccess(ctx context.Context, userID, deviceID string) (bool, error)
	DeviceExists(ctx context.Context, deviceID string) (bool, error)
	ListDevicesForUser(ctx context.Context, userID string) ([]LinkedDevice, error)

	RecordSample(ctx context.Context, s Sample) error
	ListSamples(ctx context.Context, deviceID string, q SampleQuery) ([]Sample, error)

	UpsertUser(ctx context.Context, subject, email, name, avatar string) (User, error)
	EnsureUserByEmail(ctx context.Context, email, subject, name string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
	ListOtherUsers(ctx context.Context, excludeID string) ([]User, error)
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// StoreOption configures a SQLiteStore.
type StoreOption func(*SQLiteStore)

// WithClock overrides time.Now for created_at, added_at and last_login.
func WithClock(now func() time.Time) StoreOption {
	return func(s *SQLiteStore) { s.now = now }
}

// NewSQLiteStore creates a store over an already-migrated database.
func NewSQLiteStore(db *sql.DB, opts ...StoreOption) *SQLiteStore {
	s := &SQLiteStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *SQLiteStore) timestamp() string {
	return database.FormatTime(s.now())
}

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const deviceColumns = `id, device_id, name, created_at`

func findDevice(ctx context.Context, q queryer, deviceID string) (Device, error) {
	var d Device
	var createdAt string
	err := q.QueryRowContext(ctx,
		`SELECT `+deviceColumns+` FROM devices WHERE device_id = ?`, deviceID,
	).Scan(&d.ID, &d.DeviceID, &d.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Device{}, ErrNotFound
	}
	if err != nil {
		return Device{}, fmt.Errorf("looking up device %s: %w", deviceID, err)
	}
	d.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Written by this package
	return d, nil
}

func linkExists(ctx context.Context, q queryer, userID string, devicePK int64) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx,
		`SELECT 1 FROM user_devices WHERE user_id = ? AND device_id = ?`, userID, devicePK,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("checking link: %w", err)
	}
	return true, nil
}

// ClaimDevice links userID to deviceID, registering the device under
// defaultName if it is new. The boolean result reports whether the device
// row was created; only that first claimant becomes an owner.
func (s *SQLiteStore) ClaimDevice(ctx context.Context, userID, deviceID, defaultName string) (LinkedDevice, bool, error) {
	var linked LinkedDevice
	var created bool

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		device, err := findDevice(ctx, tx, deviceID)
		switch {
		case errors.Is(err, ErrNotFound):
			now := s.timestamp()
			res, err := tx.ExecContext(ctx,
				`INSERT INTO devices (device_id, name, created_at) VALUES (?, ?, ?)`,
				deviceID, defaultName, now)
			if err != nil {
				return fmt.Errorf("inserting device: %w", err)
			}
			id, err := res.LastInsertId()
			if err != nil {
				return fmt.Errorf("reading device id: %w", err)
			}
			createdAt, _ := database.ParseTime(now) //nolint:errcheck // Just formatted
			device = Device{ID: id, DeviceID: deviceID, Name: defaultName, CreatedAt: createdAt}
			created = true
		case err != nil:
			return err
		}

		exists, err := linkExists(ctx, tx, userID, device.ID)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyLinked
		}

		addedAt := s.timestamp()
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_devices (user_id, device_id, is_owner, added_at) VALUES (?, ?, ?, ?)`,
			userID, device.ID, boolToInt(created), addedAt,
		); err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyLinked
			}
			return fmt.Errorf("inserting link: %w", err)
		}

		linked = LinkedDevice{Device: device, IsOwner: created}
		linked.AddedAt, _ = database.ParseTime(addedAt) //nolint:errcheck // Just formatted
		return nil
	})
	if err != nil {
		return LinkedDevice{}, false, storeErr("claiming device "+deviceID, err)
	}
	return linked, created, nil
}

// ShareDevice gives the user registered under targetEmail a non-owner link
// to deviceID. ownerID must hold an owner link.
func (s *SQLiteStore) ShareDevice(ctx context.Context, ownerID, deviceID, targetEmail string) (User, error) {
	var target User

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var devicePK int64
		err := tx.QueryRowContext(ctx,
			`SELECT d.id FROM devices d
			 JOIN user_devices ud ON ud.device_id = d.id
			 WHERE d.device_id = ? AND ud.user_id = ? AND ud.is_owner = 1`,
			deviceID, ownerID,
		).Scan(&devicePK)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrAccessDenied
		}
		if err != nil {
			return fmt.Errorf("checking ownership: %w", err)
		}

		target, err = scanUser(tx.QueryRowContext(ctx,
			`SELECT `+userColumns+` FROM users WHERE email = ?`, targetEmail))
		if errors.Is(err, ErrNotFound) {
			return ErrTargetNotFound
		}
		if err != nil {
			return err
		}

		exists, err := linkExists(ctx, tx, target.ID, devicePK)
		if err != nil {
			return err
		}
		if exists {
			return ErrAlreadyLinked
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO user_devices (user_id, device_id, is_owner, added_at) VALUES (?, ?, 0, ?)`,
			target.ID, devicePK, s.timestamp(),
		); err != nil {
			if isUniqueConstraintError(err) {
				return ErrAlreadyLinked
			}
			return fmt.Errorf("inserting link: %w", err)
		}
		return nil
	})
	if err != nil {
		return User{}, storeErr("sharing device "+deviceID, err)
	}
	return target, nil
}

// RemoveAccess deletes userID's link to deviceID. When that was the last
// link the device row is deleted too, and the result is true.
func (s *SQLiteStore) RemoveAccess(ctx context.Context, userID, deviceID string) (bool, error) {
	var deviceDeleted bool

	err := database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		device, err := findDevice(ctx, tx, deviceID)
		if err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM user_devices WHERE user_id = ? AND device_id = ?`, userID, device.ID)
		if err != nil {
			return fmt.Errorf("deleting link: %w", err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("reading affected rows: %w", err)
		} else if n == 0 {
			return ErrNotFound
		}

		var remaining int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM user_devices WHERE device_id = ?`, device.ID,
		).Scan(&remaining); err != nil {
			return fmt.Errorf("counting links: %w", err)
		}
		if remaining > 0 {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, device.ID); err != nil {
			return fmt.Errorf("deleting device: %w", err)
		}
		deviceDeleted = true
		return nil
	})
	if err != nil {
		return false, storeErr("removing access to "+deviceID, err)
	}
	return deviceDeleted, nil
}

// HasAccess reports whether userID has any link to deviceID.
func (s *SQLiteStore) HasAccess(ctx context.Context, userID, deviceID string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM user_devices ud
		 JOIN devices d ON d.id = ud.device_id
		 WHERE ud.user_id = ? AND d.device_id = ?`,
		userID, deviceID,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("checking access", err)
	}
	return true, nil
}

// DeviceExists reports whether deviceID is registered.
func (s *SQLiteStore) DeviceExists(ctx context.Context, deviceID string) (bool, error) {
	_, err := findDevice(ctx, s.db, deviceID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, storeErr("checking device", err)
	}
	return true, nil
}

// ListDevicesForUser returns the user's linked devices, most recently added first.
func (s *SQLiteStore) ListDevicesForUser(ctx context.Context, userID string) ([]LinkedDevice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT d.id, d.device_id, d.name, d.created_at, ud.is_owner, ud.added_at
		 FROM user_devices ud
		 JOIN devices d ON d.id = ud.device_id
		 WHERE ud.user_id = ?
		 ORDER BY ud.added_at DESC, ud.id DESC`,
		userID)
	if err != nil {
		return nil, storeErr("listing devices", err)
	}
	defer rows.Close()

	devices := make([]LinkedDevice, 0)
	for rows.Next() {
		var ld LinkedDevice
		var createdAt, addedAt string
		var isOwner int
		if err := rows.Scan(&ld.ID, &ld.DeviceID, &ld.Name, &createdAt, &isOwner, &addedAt); err != nil {
			return nil, storeErr("scanning device", err)
		}
		ld.IsOwner = isOwner == 1
		ld.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // Written by this package
		ld.AddedAt, _ = database.ParseTime(addedAt)     //nolint:errcheck // Written by this package
		devices = append(devices, ld)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterating devices", err)
	}
	return devices, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func newUserID() string {
	return "usr-" + uuid.NewString()[:8]
}
