package experiment

import (
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// ExportRow is one turn joined with its session, flattened for analysis.
type ExportRow struct {
	SessionID     string `json:"session_id"`
	Mode          string `json:"design_mode"`
	Goal          string `json:"goal"`
	TurnID        int64  `json:"turn_id"`
	TurnIndex     int    `json:"turn_index"`
	Directiveness string `json:"directiveness"`
	ChoiceFraming string `json:"choice_framing"`

	Output         string   `json:"llm_output"`
	PlanJSON       string   `json:"task_plan_json"`
	NumOptions     int      `json:"num_options"`
	NumStepsTotal  int      `json:"num_steps_total"`
	CharCount      int      `json:"char_count"`
	DeviationFlags []string `json:"deviation_flags"`
	RerenderCount  int      `json:"rerender_count"`

	UserResponse string `json:"user_response"`
	ActionChoice string `json:"action_choice"`

	AutonomyScore          *float64 `json:"autonomy_score"`
	CoercionScore          *float64 `json:"coercion_score"`
	PerceivedDirectiveness *float64 `json:"perceived_directiveness"`
	PerceivedChoice        *float64 `json:"perceived_choice"`
	IntentionScore         *float64 `json:"intention_score"`
	PerceivedEmpathy       *float64 `json:"perceived_empathy"`
	PerceivedValueSupport  *float64 `json:"perceived_value_support"`
	PerceivedPoliteness    *float64 `json:"perceived_politeness"`
	FreeText               string   `json:"free_text"`

	CreatedAt time.Time `json:"created_at"`
}

// AllTurns returns every turn joined with its session, oldest first.
func (s *SQLiteStore) AllTurns() ([]ExportRow, error) {
	rows, err := s.db.Query(`
		SELECT s.id, s.mode, s.goal,
			t.id, t.turn_index, t.directiveness, t.choice_framing,
			t.output, t.plan_json, t.num_options, t.num_steps_total, t.char_count,
			t.deviation_flags, t.rerender_count, t.user_response, t.action_choice,
			t.autonomy_score, t.coercion_score, t.perceived_directiveness,
			t.perceived_choice, t.intention_score,
			t.perceived_empathy, t.perceived_value_support, t.perceived_politeness,
			t.free_text, t.created_at
		FROM turns t JOIN sessions s ON s.id = t.session_id
		ORDER BY t.id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var out []ExportRow
	for rows.Next() {
		var r ExportRow
		var output, planJSON, flagsJSON, userResponse, actionChoice, freeText sql.NullString
		var autonomy, coercion, directiveness, choice, intention sql.NullFloat64
		var empathy, valueSupport, politeness sql.NullFloat64

		err := rows.Scan(&r.SessionID, &r.Mode, &r.Goal,
			&r.TurnID, &r.TurnIndex, &r.Directiveness, &r.ChoiceFraming,
			&output, &planJSON, &r.NumOptions, &r.NumStepsTotal, &r.CharCount,
			&flagsJSON, &r.RerenderCount, &userResponse, &actionChoice,
			&autonomy, &coercion, &directiveness, &choice, &intention,
			&empathy, &valueSupport, &politeness, &freeText, &r.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan export row: %w", err)
		}

		r.Output = output.String
		r.PlanJSON = planJSON.String
		r.UserResponse = userResponse.String
		r.ActionChoice = actionChoice.String
		r.FreeText = freeText.String
		if flagsJSON.Valid && flagsJSON.String != "" && flagsJSON.String != "null" {
			json.Unmarshal([]byte(flagsJSON.String), &r.DeviationFlags)
		}
		r.AutonomyScore = floatPtr(autonomy)
		r.CoercionScore = floatPtr(coercion)
		r.PerceivedDirectiveness = floatPtr(directiveness)
		r.PerceivedChoice = floatPtr(choice)
		r.IntentionScore = floatPtr(intention)
		r.PerceivedEmpathy = floatPtr(empathy)
		r.PerceivedValueSupport = floatPtr(valueSupport)
		r.PerceivedPoliteness = floatPtr(politeness)

		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read export rows: %w", err)
	}
	return out, nil
}

var csvHeader = []string{
	"session_id", "design_mode", "goal", "turn_id", "turn_index",
	"directiveness", "choice_framing",
	"llm_output", "num_options", "num_steps_total", "char_count",
	"deviation_flags", "rerender_count", "user_response", "action_choice",
	"autonomy_score", "coercion_score", "perceived_directiveness",
	"perceived_choice", "intention_score",
	"perceived_empathy", "perceived_value_support", "perceived_politeness",
	"free_text", "created_at",
}

// WriteCSV writes rows as a CSV table suitable for statistics tooling.
func WriteCSV(w io.Writer, rows []ExportRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, r := range rows {
		record := []string{
			r.SessionID, r.Mode, r.Goal,
			strconv.FormatInt(r.TurnID, 10), strconv.Itoa(r.TurnIndex),
			r.Directiveness, r.ChoiceFraming,
			r.Output, strconv.Itoa(r.NumOptions), strconv.Itoa(r.NumStepsTotal),
			strconv.Itoa(r.CharCount),
			strings.Join(r.DeviationFlags, ";"), strconv.Itoa(r.RerenderCount),
			r.UserResponse, r.ActionChoice,
			formatFloat(r.AutonomyScore), formatFloat(r.CoercionScore),
			formatFloat(r.PerceivedDirectiveness), formatFloat(r.PerceivedChoice),
			formatFloat(r.IntentionScore),
			formatFloat(r.PerceivedEmpathy), formatFloat(r.PerceivedValueSupport),
			formatFloat(r.PerceivedPoliteness),
			r.FreeText, r.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes rows as a JSON array.
func WriteJSON(w io.Writer, rows []ExportRow) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if rows == nil {
		rows = []ExportRow{}
	}
	return enc.Encode(rows)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}
