package pipeline

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// Custom ids are the only correlation between a submitted request and its
// result record. Filter requests carry the speech id; score requests also
// carry whether a rationale was solicited, since that changes how the
// response is parsed.

// filterCustomID encodes a filter-phase request id.
func filterCustomID(speechID int64) string {
	return fmt.Sprintf("speech_%d", speechID)
}

// parseFilterCustomID recovers the speech id from a filter custom id.
func parseFilterCustomID(customID string) (int64, error) {
	rest, ok := strings.CutPrefix(customID, "speech_")
	if !ok {
		return 0, eris.Errorf("pipeline: not a filter custom id: %q", customID)
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0, eris.Wrapf(err, "pipeline: bad filter custom id %q", customID)
	}
	return id, nil
}

// scoreCustomID encodes a score-phase request id.
func scoreCustomID(speechID int64, withReasoning bool) string {
	flag := 0
	if withReasoning {
		flag = 1
	}
	return fmt.Sprintf("score_%d_%d", speechID, flag)
}

// parseScoreCustomID recovers the speech id and reasoning flag from a
// score custom id.
func parseScoreCustomID(customID string) (int64, bool, error) {
	rest, ok := strings.CutPrefix(customID, "score_")
	if !ok {
		return 0, false, eris.Errorf("pipeline: not a score custom id: %q", customID)
	}
	parts := strings.Split(rest, "_")
	if len(parts) != 2 {
		return 0, false, eris.Errorf("pipeline: bad score custom id %q", customID)
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, false, eris.Wrapf(err, "pipeline: bad score custom id %q", customID)
	}
	switch parts[1] {
	case "0":
		return id, false, nil
	case "1":
		return id, true, nil
	default:
		return 0, false, eris.Errorf("pipeline: bad reasoning flag in %q", customID)
	}
}
