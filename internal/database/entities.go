package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"erpsync/internal/models"
)

const entityColumns = "id, remote_id, display_name, email, phone, raw_payload, remote_modified_at, created_at, updated_at, is_deleted"

// FindMaxModified возвращает наибольший remote_modified_at среди живых строк
// модуля; nil если таблица пуста.
func (db *DB) FindMaxModified(ctx context.Context, module string) (*time.Time, error) {
	table, err := entityTable(module)
	if err != nil {
		return nil, err
	}

	// MAX() теряет decltype колонки, и драйвер отдаёт строку вместо time.Time —
	// поэтому берём саму колонку через ORDER BY ... LIMIT 1.
	query := fmt.Sprintf(`SELECT remote_modified_at FROM %s
                          WHERE is_deleted = 0 AND remote_modified_at IS NOT NULL
                          ORDER BY remote_modified_at DESC LIMIT 1`, table)

	var maxModified time.Time
	err = db.db.QueryRowContext(ctx, query).Scan(&maxModified)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan max modified: %w", err)
	}
	t := maxModified.UTC()
	return &t, nil
}

// Upsert inserts the record or overwrites the stored row when the incoming
// remote_modified_at is strictly newer. Ties and older values are no-ops that
// return the stored row unchanged.
func (db *DB) Upsert(ctx context.Context, module string, record *models.Entity) (*models.Entity, error) {
	table, err := entityTable(module)
	if err != nil {
		return nil, err
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stored, err := db.upsertTx(ctx, tx, table, record)
	if err != nil {
		_ = tx.Rollback()
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit upsert: %w", err)
	}
	return stored, nil
}

// BatchUpsert applies Upsert to every record inside one transaction: either
// the whole page is committed or none of it is.
func (db *DB) BatchUpsert(ctx context.Context, module string, records []models.Entity) ([]models.Entity, error) {
	table, err := entityTable(module)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	tx, err := db.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	stored := make([]models.Entity, 0, len(records))
	for i := range records {
		row, err := db.upsertTx(ctx, tx, table, &records[i])
		if err != nil {
			_ = tx.Rollback()
			return nil, fmt.Errorf("batch upsert aborted at record %d (remote_id=%s): %w", i, records[i].RemoteID, err)
		}
		stored = append(stored, *row)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit batch upsert: %w", err)
	}
	return stored, nil
}

func (db *DB) upsertTx(ctx context.Context, tx *sql.Tx, table string, record *models.Entity) (*models.Entity, error) {
	if record.RemoteID == "" {
		return nil, errors.New("remote_id is required")
	}

	existing, err := db.findByRemoteIDTx(ctx, tx, table, record.RemoteID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()

	if existing == nil {
		modified := record.RemoteModifiedAt
		if modified == nil {
			// Отсутствующая метка на новой записи — считаем "сейчас"
			modified = &now
		} else {
			utc := modified.UTC()
			modified = &utc
		}

		payload := record.RawPayload
		if len(payload) == 0 {
			payload = json.RawMessage("{}")
		}

		query := fmt.Sprintf(`INSERT INTO %s (remote_id, display_name, email, phone, raw_payload, remote_modified_at, created_at, updated_at, is_deleted)
            VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0)`, table)
		result, err := tx.ExecContext(ctx, query,
			record.RemoteID,
			record.DisplayName,
			record.Email,
			record.Phone,
			string(payload),
			modified,
			now,
			now,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to insert entity: %w", err)
		}

		id, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("failed to get last insert id: %w", err)
		}

		inserted := *record
		inserted.LocalID = id
		inserted.RawPayload = payload
		inserted.RemoteModifiedAt = modified
		inserted.CreatedAt = now
		inserted.UpdatedAt = now
		return &inserted, nil
	}

	if !record.NewerThan(existing) {
		// Не новее — no-op, возвращаем сохранённую строку как есть
		return existing, nil
	}

	modified := record.RemoteModifiedAt.UTC()
	payload := record.RawPayload
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	query := fmt.Sprintf(`UPDATE %s SET display_name = ?, email = ?, phone = ?, raw_payload = ?, remote_modified_at = ?, updated_at = ? WHERE id = ?`, table)
	if _, err := tx.ExecContext(ctx, query,
		record.DisplayName,
		record.Email,
		record.Phone,
		string(payload),
		modified,
		now,
		existing.LocalID,
	); err != nil {
		return nil, fmt.Errorf("failed to update entity: %w", err)
	}

	updated := *record
	updated.LocalID = existing.LocalID
	updated.RawPayload = payload
	updated.RemoteModifiedAt = &modified
	updated.CreatedAt = existing.CreatedAt
	updated.UpdatedAt = now
	updated.IsDeleted = existing.IsDeleted
	return &updated, nil
}

// FindByRemoteID возвращает живую запись по внешнему идентификатору.
func (db *DB) FindByRemoteID(ctx context.Context, module, remoteID string) (*models.Entity, error) {
	table, err := entityTable(module)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE remote_id = ? AND is_deleted = 0`, entityColumns, table)
	return scanEntity(db.db.QueryRowContext(ctx, query, remoteID))
}

func (db *DB) findByRemoteIDTx(ctx context.Context, tx *sql.Tx, table, remoteID string) (*models.Entity, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE remote_id = ? AND is_deleted = 0`, entityColumns, table)
	return scanEntity(tx.QueryRowContext(ctx, query, remoteID))
}

// FindPaged возвращает страницу записей по фильтру, свежие локальные
// изменения первыми.
func (db *DB) FindPaged(ctx context.Context, module string, filter models.EntityFilter, page, pageSize int) (*models.EntityPage, error) {
	table, err := entityTable(module)
	if err != nil {
		return nil, err
	}
	if page < 0 {
		page = 0
	}
	if pageSize <= 0 {
		pageSize = models.DefaultPageSize
	}

	where := []string{"is_deleted = 0"}
	args := []interface{}{}
	if filter.RemoteID != "" {
		where = append(where, "remote_id = ?")
		args = append(args, filter.RemoteID)
	}
	if filter.ModifiedSince != nil {
		where = append(where, "remote_modified_at >= ?")
		args = append(args, filter.ModifiedSince.UTC())
	}
	whereClause := strings.Join(where, " AND ")

	var total int
	countQuery := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, table, whereClause)
	if err := db.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count entities: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s ORDER BY updated_at DESC, id DESC LIMIT ? OFFSET ?`,
		entityColumns, table, whereClause)
	rows, err := db.db.QueryContext(ctx, query, append(args, pageSize, page*pageSize)...)
	if err != nil {
		return nil, fmt.Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	items := []models.Entity{}
	for rows.Next() {
		entity, err := scanEntityRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *entity)
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	pageCount := 0
	if total > 0 {
		pageCount = (total + pageSize - 1) / pageSize
	}

	return &models.EntityPage{
		Items: items,
		Pagination: models.Pagination{
			Page:       page,
			PageSize:   pageSize,
			TotalCount: total,
			PageCount:  pageCount,
		},
	}, nil
}

// CountEntities возвращает число живых записей модуля.
func (db *DB) CountEntities(ctx context.Context, module string) (int, error) {
	table, err := entityTable(module)
	if err != nil {
		return 0, err
	}

	var count int
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE is_deleted = 0`, table)
	if err := db.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count entities: %w", err)
	}
	return count, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntity(row *sql.Row) (*models.Entity, error) {
	entity, err := scanEntityFrom(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return entity, nil
}

func scanEntityRow(rows *sql.Rows) (*models.Entity, error) {
	return scanEntityFrom(rows)
}

func scanEntityFrom(scanner rowScanner) (*models.Entity, error) {
	var entity models.Entity
	var payload string
	var modified sql.NullTime

	err := scanner.Scan(
		&entity.LocalID,
		&entity.RemoteID,
		&entity.DisplayName,
		&entity.Email,
		&entity.Phone,
		&payload,
		&modified,
		&entity.CreatedAt,
		&entity.UpdatedAt,
		&entity.IsDeleted,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan entity: %w", err)
	}

	entity.RawPayload = json.RawMessage(payload)
	if modified.Valid {
		t := modified.Time.UTC()
		entity.RemoteModifiedAt = &t
	}
	return &entity, nil
}
