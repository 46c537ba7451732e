// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/AleutianAI/AleutianChat/services/ingest"
)

// PG implements Store over a pgx connection pool.
type PG struct {
	pool *pgxpool.Pool
}

var _ Store = (*PG)(nil)

// NewPG connects to Postgres and ensures the schema exists.
func NewPG(ctx context.Context, databaseURL string) (*PG, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database unreachable: %w", err)
	}

	pg := &PG{pool: pool}
	if err := pg.migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.Info("Connected to Postgres")
	return pg, nil
}

// Close releases the connection pool.
func (p *PG) Close() {
	p.pool.Close()
}

func (p *PG) migrate(ctx context.Context) error {
	const schema = `
CREATE TABLE IF NOT EXISTS users (
	id SERIAL PRIMARY KEY,
	username TEXT UNIQUE NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE TABLE IF NOT EXISTS system_messages (
	id SERIAL PRIMARY KEY,
	owner_id INTEGER REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	content TEXT NOT NULL,
	enable_web_search BOOLEAN NOT NULL DEFAULT FALSE,
	enable_deep_search BOOLEAN NOT NULL DEFAULT FALSE,
	enable_time_sense BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS folders (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS conversations (
	id SERIAL PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	system_message_id INTEGER NOT NULL REFERENCES system_messages(id),
	folder_id INTEGER REFERENCES folders(id) ON DELETE SET NULL,
	title TEXT NOT NULL DEFAULT '',
	history JSONB NOT NULL DEFAULT '[]',
	vector_search_results TEXT NOT NULL DEFAULT '',
	search_queries JSONB NOT NULL DEFAULT '[]',
	web_search_results TEXT NOT NULL DEFAULT '',
	total_tokens INTEGER NOT NULL DEFAULT 0,
	model TEXT NOT NULL DEFAULT '',
	temperature REAL NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS uploaded_files (
	id TEXT PRIMARY KEY,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	system_message_id INTEGER NOT NULL REFERENCES system_messages(id) ON DELETE CASCADE,
	filename TEXT NOT NULL,
	file_path TEXT NOT NULL,
	processed_path TEXT NOT NULL DEFAULT '',
	mime TEXT NOT NULL DEFAULT '',
	size BIGINT NOT NULL DEFAULT 0,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_uploaded_files_sm ON uploaded_files(user_id, system_message_id);
`
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	return nil
}

// =============================================================================
// Users
// =============================================================================

func (p *PG) GetUser(ctx context.Context, id int) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, is_active, is_admin FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.IsActive, &u.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "user", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

func (p *PG) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`SELECT id, username, is_active, is_admin FROM users WHERE username = $1`, username,
	).Scan(&u.ID, &u.Username, &u.IsActive, &u.IsAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "user", ID: username}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &u, nil
}

func (p *PG) CreateUser(ctx context.Context, username string, isAdmin bool) (*User, error) {
	var u User
	err := p.pool.QueryRow(ctx,
		`INSERT INTO users (username, is_admin) VALUES ($1, $2)
		 RETURNING id, username, is_active, is_admin`,
		username, isAdmin,
	).Scan(&u.ID, &u.Username, &u.IsActive, &u.IsAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &u, nil
}

// =============================================================================
// System messages
// =============================================================================

// EnsureDefaultSystemMessage seeds the shared NULL-owner default on
// startup. Idempotent.
func (p *PG) EnsureDefaultSystemMessage(ctx context.Context, content string) (*SystemMessage, error) {
	var sm SystemMessage
	err := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at
		 FROM system_messages WHERE owner_id IS NULL AND name = $1`,
		DefaultSystemMessageName,
	).Scan(&sm.ID, &sm.OwnerID, &sm.Name, &sm.Content, &sm.EnableWebSearch, &sm.EnableDeepSearch, &sm.EnableTimeSense, &sm.CreatedAt)
	if err == nil {
		return &sm, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to check default system message: %w", err)
	}

	err = p.pool.QueryRow(ctx,
		`INSERT INTO system_messages (owner_id, name, content) VALUES (NULL, $1, $2)
		 RETURNING id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at`,
		DefaultSystemMessageName, content,
	).Scan(&sm.ID, &sm.OwnerID, &sm.Name, &sm.Content, &sm.EnableWebSearch, &sm.EnableDeepSearch, &sm.EnableTimeSense, &sm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to seed default system message: %w", err)
	}
	slog.Info("Seeded default system message", "id", sm.ID)
	return &sm, nil
}

func (p *PG) CreateSystemMessage(ctx context.Context, ownerID int, name, content string) (*SystemMessage, error) {
	var sm SystemMessage
	err := p.pool.QueryRow(ctx,
		`INSERT INTO system_messages (owner_id, name, content) VALUES ($1, $2, $3)
		 RETURNING id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at`,
		ownerID, name, content,
	).Scan(&sm.ID, &sm.OwnerID, &sm.Name, &sm.Content, &sm.EnableWebSearch, &sm.EnableDeepSearch, &sm.EnableTimeSense, &sm.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create system message: %w", err)
	}
	return &sm, nil
}

func (p *PG) GetSystemMessage(ctx context.Context, id int) (*SystemMessage, error) {
	var sm SystemMessage
	err := p.pool.QueryRow(ctx,
		`SELECT id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at
		 FROM system_messages WHERE id = $1`, id,
	).Scan(&sm.ID, &sm.OwnerID, &sm.Name, &sm.Content, &sm.EnableWebSearch, &sm.EnableDeepSearch, &sm.EnableTimeSense, &sm.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "system message", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load system message: %w", err)
	}
	return &sm, nil
}

func (p *PG) ListSystemMessages(ctx context.Context, userID int, showAll bool) ([]SystemMessage, error) {
	query := `SELECT id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at
		 FROM system_messages WHERE owner_id IS NULL OR owner_id = $1 ORDER BY id`
	args := []any{userID}
	if showAll {
		query = `SELECT id, owner_id, name, content, enable_web_search, enable_deep_search, enable_time_sense, created_at
		 FROM system_messages ORDER BY id`
		args = nil
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list system messages: %w", err)
	}
	defer rows.Close()

	var out []SystemMessage
	for rows.Next() {
		var sm SystemMessage
		if err := rows.Scan(&sm.ID, &sm.OwnerID, &sm.Name, &sm.Content,
			&sm.EnableWebSearch, &sm.EnableDeepSearch, &sm.EnableTimeSense, &sm.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan system message: %w", err)
		}
		out = append(out, sm)
	}
	return out, rows.Err()
}

func (p *PG) UpdateSystemMessage(ctx context.Context, id int, name, content string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE system_messages SET name = $2, content = $3 WHERE id = $1`,
		id, name, content,
	)
	if err != nil {
		return fmt.Errorf("failed to update system message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "system message", ID: id}
	}
	return nil
}

// DeleteSystemMessage refuses to delete shared defaults.
func (p *PG) DeleteSystemMessage(ctx context.Context, id int) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM system_messages WHERE id = $1 AND owner_id IS NOT NULL`, id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete system message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "system message", ID: id}
	}
	return nil
}

func (p *PG) SetSearchToggles(ctx context.Context, id int, enableWeb, enableDeep bool) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE system_messages SET enable_web_search = $2, enable_deep_search = $3 WHERE id = $1`,
		id, enableWeb, enableDeep,
	)
	if err != nil {
		return fmt.Errorf("failed to update search toggles: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "system message", ID: id}
	}
	return nil
}

// =============================================================================
// Conversations
// =============================================================================

const conversationColumns = `id, user_id, system_message_id, folder_id, title, history,
	vector_search_results, search_queries, web_search_results, total_tokens,
	model, temperature, created_at, updated_at`

func scanConversation(row pgx.Row) (*Conversation, error) {
	var c Conversation
	var historyJSON, queriesJSON []byte
	err := row.Scan(&c.ID, &c.UserID, &c.SystemMessageID, &c.FolderID, &c.Title, &historyJSON,
		&c.VectorSearchResults, &queriesJSON, &c.WebSearchResults, &c.TotalTokens,
		&c.Model, &c.Temperature, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(historyJSON, &c.History); err != nil {
		return nil, fmt.Errorf("corrupt conversation history: %w", err)
	}
	if err := json.Unmarshal(queriesJSON, &c.SearchQueries); err != nil {
		return nil, fmt.Errorf("corrupt search queries: %w", err)
	}
	return &c, nil
}

func (p *PG) CreateConversation(ctx context.Context, userID, systemMessageID int, title string) (*Conversation, error) {
	row := p.pool.QueryRow(ctx,
		`INSERT INTO conversations (user_id, system_message_id, title) VALUES ($1, $2, $3)
		 RETURNING `+conversationColumns,
		userID, systemMessageID, title,
	)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return c, nil
}

func (p *PG) GetConversation(ctx context.Context, userID, id int) (*Conversation, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "conversation", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return c, nil
}

func (p *PG) ListConversations(ctx context.Context, userID, page, perPage int) ([]Conversation, int, error) {
	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > 100 {
		perPage = 20
	}

	var total int
	if err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM conversations WHERE user_id = $1`, userID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count conversations: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT `+conversationColumns+` FROM conversations
		 WHERE user_id = $1 ORDER BY updated_at DESC LIMIT $2 OFFSET $3`,
		userID, perPage, (page-1)*perPage,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *c)
	}
	return out, total, rows.Err()
}

// SaveTurn commits a completed chat turn atomically.
func (p *PG) SaveTurn(ctx context.Context, userID, id int, update TurnUpdate) error {
	historyJSON, err := json.Marshal(update.History)
	if err != nil {
		return fmt.Errorf("failed to encode history: %w", err)
	}
	queries := update.SearchQueries
	if queries == nil {
		queries = []string{}
	}
	queriesJSON, err := json.Marshal(queries)
	if err != nil {
		return fmt.Errorf("failed to encode search queries: %w", err)
	}

	tag, err := p.pool.Exec(ctx,
		`UPDATE conversations SET
			history = $3,
			vector_search_results = $4,
			search_queries = $5,
			web_search_results = $6,
			total_tokens = $7,
			model = $8,
			temperature = $9,
			title = CASE WHEN $10 <> '' THEN $10 ELSE title END,
			updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		id, userID, historyJSON, update.VectorSearchResults, queriesJSON,
		update.WebSearchResults, update.TotalTokens, update.Model,
		update.Temperature, update.Title,
	)
	if err != nil {
		return fmt.Errorf("failed to save turn: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "conversation", ID: id}
	}
	return nil
}

func (p *PG) UpdateConversationTitle(ctx context.Context, userID, id int, title string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE conversations SET title = $3, updated_at = NOW() WHERE id = $1 AND user_id = $2`,
		id, userID, title,
	)
	if err != nil {
		return fmt.Errorf("failed to update title: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "conversation", ID: id}
	}
	return nil
}

func (p *PG) DeleteConversation(ctx context.Context, userID, id int) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM conversations WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "conversation", ID: id}
	}
	return nil
}

func (p *PG) AssignConversationFolder(ctx context.Context, userID, conversationID int, folderID *int) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE conversations SET folder_id = $3 WHERE id = $1 AND user_id = $2`,
		conversationID, userID, folderID,
	)
	if err != nil {
		return fmt.Errorf("failed to assign folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "conversation", ID: conversationID}
	}
	return nil
}

// =============================================================================
// Folders
// =============================================================================

func (p *PG) CreateFolder(ctx context.Context, userID int, name string) (*Folder, error) {
	var f Folder
	err := p.pool.QueryRow(ctx,
		`INSERT INTO folders (user_id, name) VALUES ($1, $2) RETURNING id, user_id, name`,
		userID, name,
	).Scan(&f.ID, &f.UserID, &f.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create folder: %w", err)
	}
	return &f, nil
}

func (p *PG) ListFolders(ctx context.Context, userID int) ([]Folder, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, user_id, name FROM folders WHERE user_id = $1 ORDER BY name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var out []Folder
	for rows.Next() {
		var f Folder
		if err := rows.Scan(&f.ID, &f.UserID, &f.Name); err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func (p *PG) RenameFolder(ctx context.Context, userID, id int, name string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE folders SET name = $3 WHERE id = $1 AND user_id = $2`, id, userID, name,
	)
	if err != nil {
		return fmt.Errorf("failed to rename folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "folder", ID: id}
	}
	return nil
}

func (p *PG) DeleteFolder(ctx context.Context, userID, id int) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM folders WHERE id = $1 AND user_id = $2`, id, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "folder", ID: id}
	}
	return nil
}

// =============================================================================
// Uploaded files (ingest.FileStore)
// =============================================================================

func (p *PG) InsertUploadedFile(ctx context.Context, userID, systemMessageID int, rec ingest.FileRecord) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO uploaded_files (id, user_id, system_message_id, filename, file_path, mime, size, uploaded_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		rec.ID, userID, systemMessageID, rec.Filename, rec.FilePath, rec.Mime, rec.Size, rec.UploadedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert uploaded file: %w", err)
	}
	return nil
}

func (p *PG) UpdateProcessedPath(ctx context.Context, fileID, processedPath string) error {
	tag, err := p.pool.Exec(ctx,
		`UPDATE uploaded_files SET processed_path = $2 WHERE id = $1`, fileID, processedPath,
	)
	if err != nil {
		return fmt.Errorf("failed to update processed path: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "uploaded file", ID: fileID}
	}
	return nil
}

func (p *PG) GetUploadedFile(ctx context.Context, userID, systemMessageID int, fileID string) (*ingest.FileRecord, error) {
	var rec ingest.FileRecord
	err := p.pool.QueryRow(ctx,
		`SELECT id, filename, file_path, processed_path, mime, size, uploaded_at
		 FROM uploaded_files WHERE id = $1 AND user_id = $2 AND system_message_id = $3`,
		fileID, userID, systemMessageID,
	).Scan(&rec.ID, &rec.Filename, &rec.FilePath, &rec.ProcessedPath, &rec.Mime, &rec.Size, &rec.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &NotFoundError{Entity: "uploaded file", ID: fileID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load uploaded file: %w", err)
	}
	return &rec, nil
}

func (p *PG) ListUploadedFiles(ctx context.Context, userID, systemMessageID int) ([]ingest.FileRecord, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, filename, file_path, processed_path, mime, size, uploaded_at
		 FROM uploaded_files WHERE user_id = $1 AND system_message_id = $2 ORDER BY uploaded_at DESC`,
		userID, systemMessageID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list uploaded files: %w", err)
	}
	defer rows.Close()

	var out []ingest.FileRecord
	for rows.Next() {
		var rec ingest.FileRecord
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.FilePath, &rec.ProcessedPath,
			&rec.Mime, &rec.Size, &rec.UploadedAt); err != nil {
			return nil, fmt.Errorf("failed to scan uploaded file: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (p *PG) DeleteUploadedFile(ctx context.Context, fileID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM uploaded_files WHERE id = $1`, fileID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete uploaded file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &NotFoundError{Entity: "uploaded file", ID: fileID}
	}
	return nil
}
