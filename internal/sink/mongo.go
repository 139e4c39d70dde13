package sink

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/mousetraptech/llmtourney/internal/modelnames"
	"github.com/mousetraptech/llmtourney/internal/telemetry"
)

const (
	turnsCollection       = "turns"
	matchesCollection     = "matches"
	modelsCollection      = "models"
	tournamentsCollection = "tournaments"

	writeTimeout = 10 * time.Second
)

func (s *Sink) ensureIndexes(ctx context.Context) error {
	ictx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	_, err := s.db.Collection(turnsCollection).Indexes().CreateMany(ictx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "match_id", Value: 1}, {Key: "turn_number", Value: 1}}},
		{Keys: bson.D{{Key: "model_id", Value: 1}}},
		{Keys: bson.D{{Key: "event_type", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("turns indexes: %w", err)
	}

	_, err = s.db.Collection(matchesCollection).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "match_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("matches index: %w", err)
	}

	_, err = s.db.Collection(modelsCollection).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "model", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("models index: %w", err)
	}

	_, err = s.db.Collection(tournamentsCollection).Indexes().CreateOne(ictx, mongo.IndexModel{
		Keys:    bson.D{{Key: "tournament", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("tournaments index: %w", err)
	}
	return nil
}

// writeBatch fans one batch out to the three collections. Turns go as
// a single InsertMany; matches and model stats are upserts.
func (s *Sink) writeBatch(batch []item) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	var turnDocs []any
	for _, it := range batch {
		switch it.kind {
		case itemTurn:
			turnDocs = append(turnDocs, s.turnDoc(it.turn))
		case itemMatch:
			if err := s.writeMatch(ctx, it.match); err != nil {
				return err
			}
		case itemTournament:
			if err := s.writeTournament(ctx, it.tournament); err != nil {
				return err
			}
		}
	}

	if len(turnDocs) > 0 {
		opts := options.InsertMany().SetOrdered(false)
		if _, err := s.db.Collection(turnsCollection).InsertMany(ctx, turnDocs, opts); err != nil {
			return fmt.Errorf("insert turns: %w", err)
		}
	}
	return nil
}

// turnDoc denormalizes a turn record for standalone querying: the
// event type is recoverable from the match id alone, and model names
// are canonicalized so dashboards never split one model across aliases.
func (s *Sink) turnDoc(rec telemetry.TurnRecord) bson.M {
	doc := bson.M{
		"schema_version":   rec.SchemaVersion,
		"match_id":         rec.MatchID,
		"tournament_name":  s.cfg.Tournament,
		"event_type":       eventTypeFromMatchID(rec.MatchID),
		"tier":             tierFromName(s.cfg.Tournament),
		"ingest_timestamp": time.Now().UTC(),
		"timestamp":        rec.Timestamp,
		"turn_number":      rec.TurnNumber,
		"player_id":        rec.PlayerID,
		"model_id":         modelnames.Normalize(rec.ModelID),
		"raw_output":       rec.RawOutput,
		"parse_success":    rec.ParseSuccess,
		"input_tokens":     rec.InputTokens,
		"output_tokens":    rec.OutputTokens,
		"latency_ms":       rec.LatencyMS,
	}
	if rec.HandNumber != 0 {
		doc["hand_number"] = rec.HandNumber
	}
	if rec.Street != "" {
		doc["street"] = rec.Street
	}
	if rec.ModelVersion != "" {
		doc["model_version"] = rec.ModelVersion
	}
	if rec.ParsedAction != nil {
		doc["parsed_action"] = rec.ParsedAction
	}
	if rec.ValidationResult != "" {
		doc["validation_result"] = rec.ValidationResult
	}
	if rec.Violation != "" {
		doc["violation"] = rec.Violation
	}
	if rec.Ruling != "" {
		doc["ruling"] = rec.Ruling
	}
	if rec.StateSnapshot != nil {
		doc["state_snapshot"] = rec.StateSnapshot
	}
	if rec.ReasoningOutput != "" {
		doc["reasoning_output"] = rec.ReasoningOutput
	}
	if rec.ShotClockMS != 0 {
		doc["shot_clock_ms"] = rec.ShotClockMS
		doc["shot_clock_expired"] = rec.ShotClockExpired
	}

	if rec.Prompt != "" {
		if s.cfg.StorePrompts {
			doc["prompt"] = rec.Prompt
		} else {
			sum := sha256.Sum256([]byte(rec.Prompt))
			doc["prompt_sha256"] = hex.EncodeToString(sum[:])
			doc["prompt_chars"] = len(rec.Prompt)
		}
	}
	return doc
}

func (s *Sink) writeMatch(ctx context.Context, sum telemetry.MatchSummary) error {
	models := make(map[string]string, len(sum.Models))
	for p, m := range sum.Models {
		models[p] = modelnames.Normalize(m)
	}

	doc := bson.M{
		"schema_version":   sum.SchemaVersion,
		"match_id":         sum.MatchID,
		"tournament_name":  s.cfg.Tournament,
		"event_type":       sum.Event,
		"tier":             tierFromName(s.cfg.Tournament),
		"ingest_timestamp": time.Now().UTC(),
		"timestamp":        sum.Timestamp,
		"players":          sum.Players,
		"models":           models,
		"scores":           sum.Scores,
		"winner":           winnerOrNil(sum),
		"win_reason":       sum.WinReason,
		"turns":            sum.Turns,
		"fidelity":         sum.Fidelity,
		"match_seed":       sum.MatchSeed,
		"duration_s":       sum.DurationS,
	}
	if len(sum.Eliminated) > 0 {
		doc["eliminated"] = sum.Eliminated
	}

	filter := bson.M{"match_id": sum.MatchID}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	if _, err := s.db.Collection(matchesCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert match %s: %w", sum.MatchID, err)
	}

	return s.updateModelStats(ctx, sum, models)
}

// updateModelStats accumulates per-model aggregates with $inc upserts,
// so replays of an already-stored match stay idempotent only at the
// match level. Tournament reruns should use a fresh database.
func (s *Sink) updateModelStats(ctx context.Context, sum telemetry.MatchSummary, models map[string]string) error {
	winner := winnerOrNil(sum)
	for _, player := range sum.Players {
		model := models[player]
		if model == "" {
			model = player
		}
		violations := 0
		if f, ok := sum.Fidelity[player]; ok {
			violations = f["total_violations"]
		}
		inc := bson.M{
			"matches_played":   1,
			"total_score":      sum.Scores[player],
			"total_violations": violations,
		}
		if winner == player {
			inc["wins"] = 1
		}
		filter := bson.M{"model": model}
		update := bson.M{
			"$inc": inc,
			"$set": bson.M{"last_seen": sum.Timestamp},
		}
		opts := options.Update().SetUpsert(true)
		if _, err := s.db.Collection(modelsCollection).UpdateOne(ctx, filter, update, opts); err != nil {
			return fmt.Errorf("upsert model %s: %w", model, err)
		}
	}
	return nil
}

func (s *Sink) writeTournament(ctx context.Context, rec TournamentRecord) error {
	name := rec.Name
	if name == "" {
		name = s.cfg.Tournament
	}
	doc := bson.M{
		"tournament":       name,
		"format":           rec.Format,
		"tier":             tierFromName(name),
		"seed":             rec.Seed,
		"status":           rec.Status,
		"ingest_timestamp": time.Now().UTC(),
	}
	if rec.Champion != "" {
		doc["champion"] = modelnames.Normalize(rec.Champion)
	}
	if rec.Standings != nil {
		doc["standings"] = rec.Standings
	}

	filter := bson.M{"tournament": name}
	update := bson.M{"$set": doc}
	opts := options.Update().SetUpsert(true)
	if _, err := s.db.Collection(tournamentsCollection).UpdateOne(ctx, filter, update, opts); err != nil {
		return fmt.Errorf("upsert tournament %s: %w", name, err)
	}
	return nil
}

// tierFromName reads the tier off the tournament name suffix, e.g.
// "summer-open-pro" is tier "pro". Names without a dash have no tier.
func tierFromName(name string) string {
	if i := strings.LastIndexByte(name, '-'); i >= 0 && i+1 < len(name) {
		return name[i+1:]
	}
	return ""
}

// winnerOrNil returns the unique top scorer, or "" on a tie. The
// summary's Winner field wins when the match logic already decided.
func winnerOrNil(sum telemetry.MatchSummary) string {
	if sum.Winner != "" {
		return sum.Winner
	}
	best := ""
	bestScore := 0.0
	tied := false
	for p, sc := range sum.Scores {
		switch {
		case best == "" || sc > bestScore:
			best, bestScore, tied = p, sc, false
		case sc == bestScore:
			tied = true
		}
	}
	if tied {
		return ""
	}
	return best
}

// eventTypeFromMatchID recovers the event name from a match id of the
// form "<event>-<a>-vs-<b>-<hex>" or "<event>-round-<n>". Everything
// before the model pairing (or round marker) is the event.
func eventTypeFromMatchID(matchID string) string {
	if i := strings.Index(matchID, "-round-"); i >= 0 {
		return matchID[:i]
	}
	if i := strings.Index(matchID, "-vs-"); i >= 0 {
		// Trim the first model name: the event is everything before
		// the last '-' preceding "-vs-". Model names may themselves
		// contain dashes, so this is heuristic; dashboards treat it
		// as a grouping hint, not identity.
		head := matchID[:i]
		if j := strings.LastIndexByte(head, '-'); j > 0 {
			return head[:j]
		}
		return head
	}
	return matchID
}
