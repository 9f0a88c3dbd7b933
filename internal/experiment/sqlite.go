package experiment

import (
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/exprlab/condcoach/internal/condition"
)

// SQLiteStore persists sessions and turn logs in SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer at a time; a single pooled connection keeps
	// concurrent sessions from hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// init creates the database schema.
func (s *SQLiteStore) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		goal TEXT NOT NULL,
		mode TEXT NOT NULL,
		condition_order TEXT NOT NULL,
		condition_index INTEGER NOT NULL,
		condition_total INTEGER NOT NULL,
		fixed_plan_json TEXT,
		initial_context TEXT,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL,
		turn_index INTEGER NOT NULL,
		directiveness TEXT NOT NULL,
		choice_framing TEXT NOT NULL,
		prompt TEXT,
		output TEXT,
		plan_json TEXT,
		num_options INTEGER,
		num_steps_total INTEGER,
		char_count INTEGER,
		deviation_flags TEXT,
		rerender_count INTEGER,
		user_response TEXT,
		action_choice TEXT,
		autonomy_items TEXT,
		coercion_items TEXT,
		perceived_directiveness_items TEXT,
		perceived_choice_items TEXT,
		intention_items TEXT,
		autonomy_score REAL,
		coercion_score REAL,
		perceived_directiveness REAL,
		perceived_choice REAL,
		intention_score REAL,
		perceived_empathy REAL,
		perceived_value_support REAL,
		perceived_politeness REAL,
		free_text TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id)
	);

	CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id);
	`

	_, err := s.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	return nil
}

// CreateSession inserts a new session row.
func (s *SQLiteStore) CreateSession(sess *Session) error {
	orderJSON, err := condition.EncodeOrder(sess.ConditionOrder)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`
		INSERT INTO sessions (id, goal, mode, condition_order, condition_index, condition_total, fixed_plan_json, initial_context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.Goal, string(sess.Mode), orderJSON, sess.ConditionIndex,
		len(sess.ConditionOrder), nullIfEmpty(sess.FixedPlanJSON), sess.InitialContext, sess.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	return nil
}

// GetSession loads a session by ID.
func (s *SQLiteStore) GetSession(id string) (*Session, error) {
	row := s.db.QueryRow(`
		SELECT id, goal, mode, condition_order, condition_index, fixed_plan_json, initial_context, created_at
		FROM sessions WHERE id = ?
	`, id)

	var sess Session
	var mode, orderJSON string
	var fixedPlan, initialContext sql.NullString

	err := row.Scan(&sess.ID, &sess.Goal, &mode, &orderJSON, &sess.ConditionIndex,
		&fixedPlan, &initialContext, &sess.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	sess.Mode = Mode(mode)
	sess.ConditionOrder, err = condition.DecodeOrder(orderJSON)
	if err != nil {
		return nil, fmt.Errorf("failed to decode condition order: %w", err)
	}
	if fixedPlan.Valid {
		sess.FixedPlanJSON = fixedPlan.String
	}
	if initialContext.Valid {
		sess.InitialContext = initialContext.String
	}

	return &sess, nil
}

// AdvanceCondition increments the condition index in one atomic update,
// saturating at the sequence length, and returns the new index.
func (s *SQLiteStore) AdvanceCondition(id string) (int, error) {
	res, err := s.db.Exec(`
		UPDATE sessions SET condition_index = MIN(condition_index + 1, condition_total)
		WHERE id = ?
	`, id)
	if err != nil {
		return 0, fmt.Errorf("failed to advance condition: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return 0, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	var index int
	err = s.db.QueryRow(`SELECT condition_index FROM sessions WHERE id = ?`, id).Scan(&index)
	if err != nil {
		return 0, fmt.Errorf("failed to read condition index: %w", err)
	}
	return index, nil
}

// SetFixedPlanIfAbsent writes planJSON only when no plan is stored yet.
// Either way it returns the plan that won, so racing callers converge.
func (s *SQLiteStore) SetFixedPlanIfAbsent(id, planJSON string) (string, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		UPDATE sessions SET fixed_plan_json = ?
		WHERE id = ? AND (fixed_plan_json IS NULL OR fixed_plan_json = '')
	`, planJSON, id)
	if err != nil {
		return "", fmt.Errorf("failed to set fixed plan: %w", err)
	}

	var winner sql.NullString
	err = tx.QueryRow(`SELECT fixed_plan_json FROM sessions WHERE id = ?`, id).Scan(&winner)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", fmt.Errorf("%w: %s", ErrSessionNotFound, id)
		}
		return "", fmt.Errorf("failed to read fixed plan: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit: %w", err)
	}
	return winner.String, nil
}

// LogTurn inserts a turn log and fills in its assigned ID.
func (s *SQLiteStore) LogTurn(t *TurnLog) error {
	flagsJSON, _ := json.Marshal(t.DeviationFlags)

	res, err := s.db.Exec(`
		INSERT INTO turns (session_id, turn_index, directiveness, choice_framing,
			prompt, output, plan_json, num_options, num_steps_total, char_count,
			deviation_flags, rerender_count, user_response, action_choice, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.SessionID, t.TurnIndex, string(t.Directiveness), string(t.ChoiceFraming),
		t.Prompt, t.Output, t.PlanJSON, t.NumOptions, t.NumStepsTotal, t.CharCount,
		string(flagsJSON), t.RerenderCount, t.UserResponse, t.ActionChoice, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log turn: %w", err)
	}

	t.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read turn id: %w", err)
	}
	return nil
}

// GetTurn loads one turn log by ID.
func (s *SQLiteStore) GetTurn(id int64) (*TurnLog, error) {
	row := s.db.QueryRow(turnSelect+` WHERE id = ?`, id)
	t, err := scanTurn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", ErrTurnNotFound, id)
		}
		return nil, fmt.Errorf("failed to load turn: %w", err)
	}
	return t, nil
}

// LastTurn returns the most recent turn of a session, or nil when the
// session has no turns yet.
func (s *SQLiteStore) LastTurn(sessionID string) (*TurnLog, error) {
	row := s.db.QueryRow(turnSelect+` WHERE session_id = ? ORDER BY id DESC LIMIT 1`, sessionID)
	t, err := scanTurn(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load last turn: %w", err)
	}
	return t, nil
}

// UpdateEvaluation attaches scale responses to an existing turn.
func (s *SQLiteStore) UpdateEvaluation(turnID int64, ev *Evaluation) error {
	autonomyJSON, _ := json.Marshal(ev.AutonomyItems)
	coercionJSON, _ := json.Marshal(ev.CoercionItems)
	directivenessJSON, _ := json.Marshal(ev.PerceivedDirectivenessItems)
	choiceJSON, _ := json.Marshal(ev.PerceivedChoiceItems)
	intentionJSON, _ := json.Marshal(ev.IntentionItems)

	res, err := s.db.Exec(`
		UPDATE turns SET
			autonomy_items = ?, coercion_items = ?, perceived_directiveness_items = ?,
			perceived_choice_items = ?, intention_items = ?,
			autonomy_score = ?, coercion_score = ?, perceived_directiveness = ?,
			perceived_choice = ?, intention_score = ?,
			perceived_empathy = ?, perceived_value_support = ?, perceived_politeness = ?,
			free_text = ?
		WHERE id = ?
	`, string(autonomyJSON), string(coercionJSON), string(directivenessJSON),
		string(choiceJSON), string(intentionJSON),
		nullFloat(ev.AutonomyScore), nullFloat(ev.CoercionScore), nullFloat(ev.PerceivedDirectiveness),
		nullFloat(ev.PerceivedChoice), nullFloat(ev.IntentionScore),
		nullFloat(ev.PerceivedEmpathy), nullFloat(ev.PerceivedValueSupport), nullFloat(ev.PerceivedPoliteness),
		ev.FreeText, turnID)
	if err != nil {
		return fmt.Errorf("failed to update evaluation: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("%w: %d", ErrTurnNotFound, turnID)
	}
	return nil
}

const turnSelect = `
	SELECT id, session_id, turn_index, directiveness, choice_framing,
		prompt, output, plan_json, num_options, num_steps_total, char_count,
		deviation_flags, rerender_count, user_response, action_choice,
		autonomy_items, coercion_items, perceived_directiveness_items,
		perceived_choice_items, intention_items,
		autonomy_score, coercion_score, perceived_directiveness,
		perceived_choice, intention_score,
		perceived_empathy, perceived_value_support, perceived_politeness,
		free_text, created_at
	FROM turns`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTurn(row rowScanner) (*TurnLog, error) {
	var t TurnLog
	var directiveness, choiceFraming string
	var prompt, output, planJSON, flagsJSON, userResponse, actionChoice sql.NullString
	var autonomyItems, coercionItems, directivenessItems, choiceItems, intentionItems sql.NullString
	var autonomyScore, coercionScore, perceivedDirectiveness, perceivedChoice, intentionScore sql.NullFloat64
	var empathy, valueSupport, politeness sql.NullFloat64
	var freeText sql.NullString

	err := row.Scan(&t.ID, &t.SessionID, &t.TurnIndex, &directiveness, &choiceFraming,
		&prompt, &output, &planJSON, &t.NumOptions, &t.NumStepsTotal, &t.CharCount,
		&flagsJSON, &t.RerenderCount, &userResponse, &actionChoice,
		&autonomyItems, &coercionItems, &directivenessItems, &choiceItems, &intentionItems,
		&autonomyScore, &coercionScore, &perceivedDirectiveness, &perceivedChoice, &intentionScore,
		&empathy, &valueSupport, &politeness, &freeText, &t.CreatedAt)
	if err != nil {
		return nil, err
	}

	t.Directiveness = condition.Directiveness(directiveness)
	t.ChoiceFraming = condition.ChoiceFraming(choiceFraming)
	t.Prompt = prompt.String
	t.Output = output.String
	t.PlanJSON = planJSON.String
	t.UserResponse = userResponse.String
	t.ActionChoice = actionChoice.String
	if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
		json.Unmarshal([]byte(flagsJSON.String), &t.DeviationFlags)
	}

	ev := &Evaluation{FreeText: freeText.String}
	unmarshalItems(autonomyItems, &ev.AutonomyItems)
	unmarshalItems(coercionItems, &ev.CoercionItems)
	unmarshalItems(directivenessItems, &ev.PerceivedDirectivenessItems)
	unmarshalItems(choiceItems, &ev.PerceivedChoiceItems)
	unmarshalItems(intentionItems, &ev.IntentionItems)
	ev.AutonomyScore = floatPtr(autonomyScore)
	ev.CoercionScore = floatPtr(coercionScore)
	ev.PerceivedDirectiveness = floatPtr(perceivedDirectiveness)
	ev.PerceivedChoice = floatPtr(perceivedChoice)
	ev.IntentionScore = floatPtr(intentionScore)
	ev.PerceivedEmpathy = floatPtr(empathy)
	ev.PerceivedValueSupport = floatPtr(valueSupport)
	ev.PerceivedPoliteness = floatPtr(politeness)
	if evaluated(ev) {
		t.Evaluation = ev
	}

	return &t, nil
}

func evaluated(ev *Evaluation) bool {
	return len(ev.AutonomyItems) > 0 || len(ev.CoercionItems) > 0 ||
		len(ev.PerceivedDirectivenessItems) > 0 || len(ev.PerceivedChoiceItems) > 0 ||
		len(ev.IntentionItems) > 0 ||
		ev.AutonomyScore != nil || ev.CoercionScore != nil ||
		ev.PerceivedDirectiveness != nil || ev.PerceivedChoice != nil ||
		ev.IntentionScore != nil || ev.PerceivedEmpathy != nil ||
		ev.PerceivedValueSupport != nil || ev.PerceivedPoliteness != nil ||
		ev.FreeText != ""
}

func unmarshalItems(col sql.NullString, dst *[]float64) {
	if col.Valid && col.String != "" && col.String != "null" {
		json.Unmarshal([]byte(col.String), dst)
	}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

func nullFloat(v *float64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
