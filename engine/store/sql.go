package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/flowstack/graphexec/engine"
)

// dialect abstracts the handful of syntax differences between the
// sqlite and mysql backends (placeholder style and row-locking clause);
// everything else is plain ANSI SQL shared by both.
type dialect struct {
	name          string
	placeholder   func(n int) string
	forUpdate     string
	upsertBalance string // full INSERT .. ON CONFLICT/DUPLICATE statement, two placeholders
}

var sqliteDialect = dialect{
	name:        "sqlite",
	placeholder: func(int) string { return "?" },
	forUpdate:   "",
	upsertBalance: `INSERT INTO balances (user_id, balance) VALUES (?, ?)
		ON CONFLICT (user_id) DO UPDATE SET balance = excluded.balance`,
}

var mysqlDialect = dialect{
	name:        "mysql",
	placeholder: func(int) string { return "?" },
	forUpdate:   "FOR UPDATE",
	upsertBalance: `INSERT INTO balances (user_id, balance) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE balance = VALUES(balance)`,
}

// SQLStore is a relational implementation of Store, backed by any
// database/sql driver. graphs and executions are persisted as JSON
// document rows: the complex data-flow resolution logic the spec
// describes (earliest-incomplete tie-break, static-cache lookup) is
// applied in Go against rows loaded inside one transaction, the same
// shape the teacher's SQLiteStore gives to workflow steps and
// checkpoints, just with the scheduler's entities instead.
//
// Used by NewSQLiteStore (development/single-process) and
// NewMySQLStore (deployments that keep executions in a shared MySQL
// database).
type SQLStore struct {
	db *sql.DB
	d  dialect
}

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	s := &SQLStore{db: db, d: d}
	if err := s.createTables(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS graphs (
			graph_id VARCHAR(255) NOT NULL PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			version INTEGER NOT NULL,
			definition TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS graph_executions (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			graph_id VARCHAR(255) NOT NULL,
			graph_version INTEGER NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			preset_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			started_at TIMESTAMP NULL,
			stats TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS node_executions (
			id VARCHAR(64) NOT NULL PRIMARY KEY,
			graph_exec_id VARCHAR(64) NOT NULL,
			node_id VARCHAR(255) NOT NULL,
			block_id VARCHAR(255) NOT NULL,
			user_id VARCHAR(255) NOT NULL,
			graph_id VARCHAR(255) NOT NULL,
			status VARCHAR(32) NOT NULL,
			input_data TEXT NOT NULL,
			output_data TEXT NOT NULL,
			stats TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS balances (
			user_id VARCHAR(255) NOT NULL PRIMARY KEY,
			balance BIGINT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: create tables: %w", err)
		}
	}
	// MySQL's CREATE INDEX has no IF NOT EXISTS form, so index creation
	// is best-effort: errors (most commonly "duplicate key name" on a
	// second open against the same database) are swallowed rather than
	// propagated, mirroring the teacher's "create if needed" schema
	// bootstrap without requiring an information_schema probe.
	for _, stmt := range []string{
		`CREATE INDEX idx_node_execs_scope ON node_executions(node_id, graph_exec_id)`,
		`CREATE INDEX idx_node_execs_graph ON node_executions(graph_exec_id)`,
	} {
		_, _ = s.db.ExecContext(ctx, stmt)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error { return s.db.Close() }

// RegisterGraph persists g (as an opaque JSON document) and its display
// name, mirroring MemStore.RegisterGraph for callers wiring a SQL-backed
// deployment without the (out of scope) full graph-authoring service.
func (s *SQLStore) RegisterGraph(ctx context.Context, g *engine.Graph, name string) error {
	raw, err := json.Marshal(g)
	if err != nil {
		return fmt.Errorf("store: marshal graph: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `DELETE FROM graphs WHERE graph_id = `+s.d.placeholder(1), g.ID)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (graph_id, name, version, definition) VALUES (`+s.d.placeholder(1)+`, `+s.d.placeholder(2)+`, `+s.d.placeholder(3)+`, `+s.d.placeholder(4)+`)`,
		g.ID, name, g.Version, string(raw))
	return err
}

// SetBalance seeds a user's credit balance, primarily for tests and
// operator tooling.
func (s *SQLStore) SetBalance(ctx context.Context, userID string, amount int64) error {
	_, err := s.db.ExecContext(ctx, s.d.upsertBalance, userID, amount)
	return err
}

func (s *SQLStore) GetGraph(ctx context.Context, graphID string, _ string, _ int) (*engine.Graph, error) {
	row := s.db.QueryRowContext(ctx, `SELECT definition FROM graphs WHERE graph_id = `+s.d.placeholder(1), graphID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var g engine.Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, fmt.Errorf("store: unmarshal graph: %w", err)
	}
	return &g, nil
}

func (s *SQLStore) GetNode(ctx context.Context, nodeID string) (*engine.Node, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT definition FROM graphs`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var g engine.Graph
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			continue
		}
		if n, ok := g.Node(nodeID); ok {
			return n, nil
		}
	}
	return nil, ErrNotFound
}

func (s *SQLStore) GetGraphMetadata(ctx context.Context, graphID string, _ int) (*GraphMetadata, error) {
	row := s.db.QueryRowContext(ctx, `SELECT name FROM graphs WHERE graph_id = `+s.d.placeholder(1), graphID)
	var name string
	if err := row.Scan(&name); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &GraphMetadata{GraphID: graphID, Name: name}, nil
}

func (s *SQLStore) CreateGraphExecution(ctx context.Context, p CreateGraphExecutionParams) (*engine.GraphExecution, []*engine.NodeExecution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	ge := &engine.GraphExecution{
		ID:           uuid.NewString(),
		GraphID:      p.GraphID,
		GraphVersion: p.GraphVersion,
		UserID:       p.UserID,
		PresetID:     p.PresetID,
		Status:       engine.StatusQueued,
	}
	statsRaw, _ := json.Marshal(ge.Stats)
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO graph_executions (id, graph_id, graph_version, user_id, preset_id, status, stats) VALUES (`+
			s.d.placeholder(1)+`,`+s.d.placeholder(2)+`,`+s.d.placeholder(3)+`,`+s.d.placeholder(4)+`,`+s.d.placeholder(5)+`,`+s.d.placeholder(6)+`,`+s.d.placeholder(7)+`)`,
		ge.ID, ge.GraphID, ge.GraphVersion, ge.UserID, ge.PresetID, string(ge.Status), string(statsRaw)); err != nil {
		return nil, nil, fmt.Errorf("store: insert graph_execution: %w", err)
	}

	g, err := s.getGraphTx(ctx, tx, p.GraphID)
	if err != nil {
		return nil, nil, err
	}

	nodeExecs := make([]*engine.NodeExecution, 0, len(p.NodesInput))
	for _, seed := range p.NodesInput {
		node, ok := g.Node(seed.NodeID)
		if !ok {
			return nil, nil, ErrNotFound
		}
		ne := &engine.NodeExecution{
			ID:          uuid.NewString(),
			GraphExecID: ge.ID,
			NodeID:      seed.NodeID,
			BlockID:     node.BlockID,
			UserID:      p.UserID,
			GraphID:     p.GraphID,
			Status:      engine.StatusQueued,
			InputData:   seed.Input,
			CreatedAt:   time.Now(),
		}
		if err := s.insertNodeExecTx(ctx, tx, ne); err != nil {
			return nil, nil, err
		}
		nodeExecs = append(nodeExecs, ne)
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return ge, nodeExecs, nil
}

func (s *SQLStore) getGraphTx(ctx context.Context, tx *sql.Tx, graphID string) (*engine.Graph, error) {
	row := tx.QueryRowContext(ctx, `SELECT definition FROM graphs WHERE graph_id = `+s.d.placeholder(1), graphID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var g engine.Graph
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *SQLStore) insertNodeExecTx(ctx context.Context, tx *sql.Tx, ne *engine.NodeExecution) error {
	input, _ := json.Marshal(ne.SnapshotInput())
	output, _ := json.Marshal(ne.OutputData)
	stats, _ := json.Marshal(ne.Stats)
	_, err := tx.ExecContext(ctx,
		`INSERT INTO node_executions (id, graph_exec_id, node_id, block_id, user_id, graph_id, status, input_data, output_data, stats, created_at)
		 VALUES (`+s.d.placeholder(1)+`,`+s.d.placeholder(2)+`,`+s.d.placeholder(3)+`,`+s.d.placeholder(4)+`,`+s.d.placeholder(5)+`,`+s.d.placeholder(6)+`,`+s.d.placeholder(7)+`,`+s.d.placeholder(8)+`,`+s.d.placeholder(9)+`,`+s.d.placeholder(10)+`,`+s.d.placeholder(11)+`)`,
		ne.ID, ne.GraphExecID, ne.NodeID, ne.BlockID, ne.UserID, ne.GraphID, string(ne.Status), string(input), string(output), string(stats), ne.CreatedAt)
	return err
}

func (s *SQLStore) UpdateGraphExecutionStartTime(ctx context.Context, graphExecID string) (*engine.GraphExecution, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx,
		`UPDATE graph_executions SET started_at = `+s.d.placeholder(1)+`, status = `+s.d.placeholder(2)+` WHERE id = `+s.d.placeholder(3),
		now, string(engine.StatusRunning), graphExecID)
	if err != nil {
		return nil, err
	}
	return s.getGraphExecution(ctx, graphExecID, now)
}

func (s *SQLStore) getGraphExecution(ctx context.Context, graphExecID string, startedAt time.Time) (*engine.GraphExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT graph_id, graph_version, user_id, preset_id, status, stats FROM graph_executions WHERE id = `+s.d.placeholder(1), graphExecID)
	ge := &engine.GraphExecution{ID: graphExecID, StartedAt: startedAt}
	var status, statsRaw string
	if err := row.Scan(&ge.GraphID, &ge.GraphVersion, &ge.UserID, &ge.PresetID, &status, &statsRaw); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	ge.Status = engine.Status(status)
	_ = json.Unmarshal([]byte(statsRaw), &ge.Stats)
	return ge, nil
}

func (s *SQLStore) UpdateGraphExecutionStats(ctx context.Context, graphExecID string, status engine.Status, stats engine.GraphExecutionStats) (*engine.GraphExecution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT status FROM graph_executions WHERE id = `+s.d.placeholder(1)+` `+s.d.forUpdate, graphExecID)
	var current string
	if err := row.Scan(&current); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !engine.CanTransition(engine.Status(current), status) {
		tx.Rollback()
		return s.getGraphExecution(ctx, graphExecID, time.Time{})
	}
	statsRaw, _ := json.Marshal(stats)
	if _, err := tx.ExecContext(ctx,
		`UPDATE graph_executions SET status = `+s.d.placeholder(1)+`, stats = `+s.d.placeholder(2)+` WHERE id = `+s.d.placeholder(3),
		string(status), string(statsRaw), graphExecID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return s.getGraphExecution(ctx, graphExecID, time.Time{})
}

func (s *SQLStore) scanNodeExec(scan func(dest ...any) error) (*engine.NodeExecution, error) {
	ne := &engine.NodeExecution{}
	var status, input, output, stats string
	if err := scan(&ne.ID, &ne.GraphExecID, &ne.NodeID, &ne.BlockID, &ne.UserID, &ne.GraphID, &status, &input, &output, &stats, &ne.CreatedAt); err != nil {
		return nil, err
	}
	ne.Status = engine.Status(status)
	_ = json.Unmarshal([]byte(input), &ne.InputData)
	_ = json.Unmarshal([]byte(output), &ne.OutputData)
	_ = json.Unmarshal([]byte(stats), &ne.Stats)
	return ne, nil
}

const nodeExecCols = `id, graph_exec_id, node_id, block_id, user_id, graph_id, status, input_data, output_data, stats, created_at`

func (s *SQLStore) GetLatestNodeExecution(ctx context.Context, nodeID, graphExecID string) (*engine.NodeExecution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeExecCols+` FROM node_executions WHERE node_id = `+s.d.placeholder(1)+` AND graph_exec_id = `+s.d.placeholder(2)+` AND status = `+s.d.placeholder(3)+`
		 ORDER BY created_at DESC LIMIT 1`,
		nodeID, graphExecID, string(engine.StatusCompleted))
	ne, err := s.scanNodeExec(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ne, err
}

func (s *SQLStore) GetIncompleteNodeExecutions(ctx context.Context, nodeID, graphExecID string) ([]*engine.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeExecCols+` FROM node_executions WHERE node_id = `+s.d.placeholder(1)+` AND graph_exec_id = `+s.d.placeholder(2)+` AND status = `+s.d.placeholder(3)+`
		 ORDER BY created_at ASC`,
		nodeID, graphExecID, string(engine.StatusIncomplete))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.NodeExecution
	for rows.Next() {
		ne, err := s.scanNodeExec(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, ne)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetNodeExecutionResults(ctx context.Context, graphExecID string, filter NodeExecutionFilter) ([]*engine.NodeExecution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+nodeExecCols+` FROM node_executions WHERE graph_exec_id = `+s.d.placeholder(1)+` ORDER BY created_at ASC`,
		graphExecID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*engine.NodeExecution
	for rows.Next() {
		ne, err := s.scanNodeExec(rows.Scan)
		if err != nil {
			return nil, err
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, ne.Status) {
			continue
		}
		if len(filter.BlockIDs) > 0 && !containsString(filter.BlockIDs, ne.BlockID) {
			continue
		}
		out = append(out, ne)
	}
	return out, rows.Err()
}

// UpsertExecutionInput implements §4.1 step 2 over SQL: inside one
// transaction, find the earliest Incomplete row of (nodeID,
// graphExecID) still missing inputName (locking candidate rows where
// the dialect supports it), merge the value in Go, and write the row
// back - or insert a fresh Incomplete row if none qualified.
func (s *SQLStore) UpsertExecutionInput(ctx context.Context, nodeID, graphExecID, inputName string, inputData any) (string, engine.Data, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT `+nodeExecCols+` FROM node_executions WHERE node_id = `+s.d.placeholder(1)+` AND graph_exec_id = `+s.d.placeholder(2)+` AND status = `+s.d.placeholder(3)+`
		 ORDER BY created_at ASC `+s.d.forUpdate,
		nodeID, graphExecID, string(engine.StatusIncomplete))
	if err != nil {
		return "", nil, err
	}
	var candidates []*engine.NodeExecution
	for rows.Next() {
		ne, err := s.scanNodeExec(rows.Scan)
		if err != nil {
			rows.Close()
			return "", nil, err
		}
		candidates = append(candidates, ne)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return "", nil, err
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].CreatedAt.Before(candidates[j].CreatedAt) })

	var target *engine.NodeExecution
	for _, ne := range candidates {
		if !ne.HasInput(inputName) {
			target = ne
			break
		}
	}

	if target == nil {
		blockID, err := s.lookupBlockID(ctx, tx, nodeID)
		if err != nil {
			return "", nil, err
		}
		userID, graphID, err := s.lookupGraphExecOwnerTx(ctx, tx, graphExecID)
		if err != nil {
			return "", nil, err
		}
		target = &engine.NodeExecution{
			ID:          uuid.NewString(),
			GraphExecID: graphExecID,
			NodeID:      nodeID,
			BlockID:     blockID,
			UserID:      userID,
			GraphID:     graphID,
			Status:      engine.StatusIncomplete,
			InputData:   engine.Data{inputName: inputData},
			CreatedAt:   time.Now(),
		}
		if err := s.insertNodeExecTx(ctx, tx, target); err != nil {
			return "", nil, err
		}
	} else {
		target.SetInput(inputName, inputData)
		input, _ := json.Marshal(target.SnapshotInput())
		if _, err := tx.ExecContext(ctx, `UPDATE node_executions SET input_data = `+s.d.placeholder(1)+` WHERE id = `+s.d.placeholder(2), string(input), target.ID); err != nil {
			return "", nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return "", nil, err
	}
	return target.ID, target.SnapshotInput(), nil
}

// lookupGraphExecOwnerTx resolves the (user_id, graph_id) a dynamically
// created NodeExecution should inherit from its parent GraphExecution,
// mirroring the seed-time assignment CreateGraphExecution already does
// for starting nodes.
func (s *SQLStore) lookupGraphExecOwnerTx(ctx context.Context, tx *sql.Tx, graphExecID string) (userID, graphID string, err error) {
	row := tx.QueryRowContext(ctx, `SELECT user_id, graph_id FROM graph_executions WHERE id = `+s.d.placeholder(1), graphExecID)
	if err := row.Scan(&userID, &graphID); err != nil {
		if err == sql.ErrNoRows {
			return "", "", ErrNotFound
		}
		return "", "", err
	}
	return userID, graphID, nil
}

func (s *SQLStore) lookupBlockID(ctx context.Context, tx *sql.Tx, nodeID string) (string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT definition FROM graphs`)
	if err != nil {
		return "", err
	}
	defer rows.Close()
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return "", err
		}
		var g engine.Graph
		if err := json.Unmarshal([]byte(raw), &g); err != nil {
			continue
		}
		if n, ok := g.Node(nodeID); ok {
			return n.BlockID, nil
		}
	}
	return "", ErrNotFound
}

func (s *SQLStore) UpsertExecutionOutput(ctx context.Context, nodeExecID, outputName string, outputData any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT output_data FROM node_executions WHERE id = `+s.d.placeholder(1)+` `+s.d.forUpdate, nodeExecID)
	var raw string
	if err := row.Scan(&raw); err != nil {
		if err == sql.ErrNoRows {
			return ErrNotFound
		}
		return err
	}
	output := map[string][]any{}
	_ = json.Unmarshal([]byte(raw), &output)
	output[outputName] = append(output[outputName], outputData)
	encoded, _ := json.Marshal(output)
	if _, err := tx.ExecContext(ctx, `UPDATE node_executions SET output_data = `+s.d.placeholder(1)+` WHERE id = `+s.d.placeholder(2), string(encoded), nodeExecID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLStore) UpdateNodeExecutionStatus(ctx context.Context, nodeExecID string, status engine.Status, data engine.Data) (*engine.NodeExecution, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT `+nodeExecCols+` FROM node_executions WHERE id = `+s.d.placeholder(1)+` `+s.d.forUpdate, nodeExecID)
	ne, err := s.scanNodeExec(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !engine.CanTransition(ne.Status, status) {
		return nil, fmt.Errorf("illegal status transition %s -> %s for %s", ne.Status, status, nodeExecID)
	}
	for k, v := range data {
		ne.SetInput(k, v)
	}
	ne.Status = status
	input, _ := json.Marshal(ne.SnapshotInput())
	if _, err := tx.ExecContext(ctx,
		`UPDATE node_executions SET status = `+s.d.placeholder(1)+`, input_data = `+s.d.placeholder(2)+` WHERE id = `+s.d.placeholder(3),
		string(status), string(input), nodeExecID); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ne, nil
}

func (s *SQLStore) UpdateNodeExecutionStatusBatch(ctx context.Context, nodeExecIDs []string, status engine.Status) ([]*engine.NodeExecution, error) {
	out := make([]*engine.NodeExecution, 0, len(nodeExecIDs))
	for _, id := range nodeExecIDs {
		ne, err := s.UpdateNodeExecutionStatus(ctx, id, status, nil)
		if err != nil {
			continue
		}
		out = append(out, ne)
	}
	return out, nil
}

func (s *SQLStore) UpdateNodeExecutionStats(ctx context.Context, nodeExecID string, stats engine.NodeExecutionStats) error {
	raw, _ := json.Marshal(stats)
	res, err := s.db.ExecContext(ctx, `UPDATE node_executions SET stats = `+s.d.placeholder(1)+` WHERE id = `+s.d.placeholder(2), string(raw), nodeExecID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLStore) GetNodeExecution(ctx context.Context, nodeExecID string) (*engine.NodeExecution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeExecCols+` FROM node_executions WHERE id = `+s.d.placeholder(1), nodeExecID)
	ne, err := s.scanNodeExec(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return ne, err
}

func (s *SQLStore) SpendCredits(ctx context.Context, userID string, cost int64, _ UsageMetadata) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = `+s.d.placeholder(1)+` `+s.d.forUpdate, userID)
	var balance int64
	if err := row.Scan(&balance); err != nil && err != sql.ErrNoRows {
		return err
	}
	if balance < cost {
		return &engine.InsufficientBalanceError{Balance: balance, Amount: cost}
	}
	if _, err := tx.ExecContext(ctx, s.d.upsertBalance, userID, balance-cost); err != nil {
		return err
	}
	return tx.Commit()
}
