// ABOUTME: End-to-end encryption setup for the Matrix adapter using mautrix cryptohelper
// ABOUTME: Derives a per-user store key and resets the crypto store when the device ID changes

package matrix

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/hkdf"
	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/crypto/cryptohelper"
)

const storeKeyInfo = "coven-assistant matrix crypto store"

// CryptoManager owns the crypto helper attached to a logged-in client.
type CryptoManager struct {
	helper *cryptohelper.CryptoHelper
	logger *slog.Logger
}

// SetupCrypto enables E2EE on a logged-in client. The crypto database lives
// in dataDir and is named after the user ID. A non-empty recoveryKey is used
// for cross-signing verification; failure to verify is logged, not fatal.
func SetupCrypto(ctx context.Context, client *mautrix.Client, recoveryKey, dataDir string, logger *slog.Logger) (*CryptoManager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "matrix-crypto")

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	userID := client.UserID.String()
	dbPath := filepath.Join(dataDir, fmt.Sprintf("matrix-crypto-%s.db", slugify(userID)))
	logger.Info("setting up encryption", "db", dbPath)

	storeKey, err := deriveStoreKey(userID)
	if err != nil {
		return nil, err
	}

	helper, err := initCryptoHelper(ctx, client, storeKey, dbPath, logger)
	if err != nil {
		return nil, err
	}
	client.Crypto = helper

	cm := &CryptoManager{helper: helper, logger: logger}
	if recoveryKey == "" {
		logger.Info("encryption initialized without cross-signing")
		return cm, nil
	}
	if err := cm.verifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		logger.Warn("failed to verify with recovery key", "error", err)
	} else {
		logger.Info("encryption initialized with cross-signing verification")
	}
	return cm, nil
}

func (cm *CryptoManager) verifyWithRecoveryKey(ctx context.Context, recoveryKey string) error {
	machine := cm.helper.Machine()
	if machine == nil {
		return errors.New("crypto machine not initialized")
	}
	if err := machine.VerifyWithRecoveryKey(ctx, recoveryKey); err != nil {
		return fmt.Errorf("recovery key verification failed: %w", err)
	}
	return nil
}

// Close releases the crypto store.
func (cm *CryptoManager) Close() error {
	if cm == nil || cm.helper == nil {
		return nil
	}
	return cm.helper.Close()
}

// slugify turns a Matrix user ID into a filesystem-safe name.
// @bot:matrix.org becomes bot_matrix.org.
func slugify(userID string) string {
	if len(userID) > 0 && userID[0] == '@' {
		userID = userID[1:]
	}
	out := make([]byte, 0, len(userID))
	for i := 0; i < len(userID); i++ {
		c := userID[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '.', c == '-', c == '_':
			out = append(out, c)
		case c == ':':
			out = append(out, '_')
		}
	}
	return string(out)
}

// deriveStoreKey expands the user ID into a 32-byte pickle key.
func deriveStoreKey(userID string) ([]byte, error) {
	key := make([]byte, 32)
	r := hkdf.New(sha256.New, []byte(userID), nil, []byte(storeKeyInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("deriving store key: %w", err)
	}
	return key, nil
}

func initCryptoHelper(ctx context.Context, client *mautrix.Client, storeKey []byte, dbPath string, logger *slog.Logger) (*cryptohelper.CryptoHelper, error) {
	if reset, err := checkDeviceIDMismatch(dbPath, client.DeviceID.String()); err != nil {
		logger.Debug("could not check device ID", "error", err)
	} else if reset {
		logger.Warn("device ID mismatch, resetting crypto database")
		if err := removeDatabase(dbPath); err != nil {
			return nil, err
		}
	}

	helper, err := cryptohelper.NewCryptoHelper(client, storeKey, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating crypto helper: %w", err)
	}
	if err := helper.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing crypto helper: %w", err)
	}
	return helper, nil
}

func removeDatabase(dbPath string) error {
	if err := os.Remove(dbPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing old crypto database: %w", err)
	}
	_ = os.Remove(dbPath + "-wal")
	_ = os.Remove(dbPath + "-shm")
	return nil
}

// checkDeviceIDMismatch reports whether an existing crypto database belongs
// to a different device than currentDeviceID.
func checkDeviceIDMismatch(dbPath, currentDeviceID string) (bool, error) {
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return false, nil
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return false, err
	}
	defer db.Close()

	var stored string
	err = db.QueryRow("SELECT device_id FROM crypto_account LIMIT 1").Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return stored != currentDeviceID, nil
}
