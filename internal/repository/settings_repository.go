package repository

import (
    "database/sql"
    "encoding/json"
    "fmt"

    "github.com/nthuku/mailpacer-backend/internal/model"
)

type SettingsRepositoryInterface interface {
    Get() (*model.Settings, error)
    Update(s *model.Settings) error
}

// SettingsRepository reads and writes the single operator settings row. The
// pacing sub-document is stored as JSONB.
type SettingsRepository struct {
    DB *sql.DB
}

func (r *SettingsRepository) Get() (*model.Settings, error) {
    query := `SELECT sender_address, sender_alias, pacing FROM settings WHERE id=1`
    var s model.Settings
    var pacing []byte
    err := r.DB.QueryRow(query).Scan(&s.SenderAddress, &s.SenderAlias, &pacing)
    if err != nil {
        if err == sql.ErrNoRows {
            return &model.Settings{}, nil
        }
        return nil, err
    }
    if len(pacing) > 0 {
        if err := json.Unmarshal(pacing, &s.Pacing); err != nil {
            return nil, fmt.Errorf("decode pacing config: %w", err)
        }
    }
    return &s, nil
}

func (r *SettingsRepository) Update(s *model.Settings) error {
    pacing, err := json.Marshal(s.Pacing)
    if err != nil {
        return fmt.Errorf("encode pacing config: %w", err)
    }
    query := `
        INSERT INTO settings (id, sender_address, sender_alias, pacing)
        VALUES (1, $1, $2, $3)
        ON CONFLICT (id) DO UPDATE
        SET sender_address=EXCLUDED.sender_address, sender_alias=EXCLUDED.sender_alias, pacing=EXCLUDED.pacing
    `
    _, err = r.DB.Exec(query, s.SenderAddress, s.SenderAlias, pacing)
    return err
}

var _ SettingsRepositoryInterface = (*SettingsRepository)(nil)
