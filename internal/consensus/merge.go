package consensus

import (
	"sort"

	"github.com/sells-group/crm-enrich/internal/model"
)

// agreementBonus rewards independent providers converging on one answer.
const defaultAgreementBonus = 0.1

// contribution is one provider's candidate for one field.
type contribution struct {
	provider   string
	value      any
	confidence float64
}

// mergeField folds all provider contributions for one field into a single
// scored suggestion. The fold is commutative over provider identity: sort
// first so arrival order never matters.
func mergeField(f model.Field, contribs []contribution, bonus float64) (model.Suggestion, bool) {
	if len(contribs) == 0 {
		return model.Suggestion{}, false
	}
	if bonus <= 0 {
		bonus = defaultAgreementBonus
	}
	sort.Slice(contribs, func(i, j int) bool { return contribs[i].provider < contribs[j].provider })

	switch f.Kind() {
	case model.KindList:
		return mergeList(contribs, bonus), true
	case model.KindMap:
		return mergeMap(contribs, bonus), true
	default:
		return mergeScalar(contribs, bonus), true
	}
}

// mergeScalar groups contributions by normalized equality. Agreeing
// providers average their scores plus the agreement bonus (capped at 1.0);
// between disagreeing groups the single highest-confidence candidate wins
// outright. Conflicting free-text answers are never averaged or
// concatenated.
func mergeScalar(contribs []contribution, bonus float64) model.Suggestion {
	type group struct {
		value      any
		sources    []string
		confSum    float64
		confMax    float64
		population int
	}
	groups := make(map[string]*group)
	var keys []string
	for _, c := range contribs {
		key := normalizeScalar(c.value)
		g, ok := groups[key]
		if !ok {
			g = &group{value: c.value}
			groups[key] = g
			keys = append(keys, key)
		}
		g.sources = append(g.sources, c.provider)
		g.confSum += c.confidence
		g.population++
		if c.confidence > g.confMax {
			g.confMax = c.confidence
			g.value = c.value
		}
	}

	var best *group
	for _, key := range keys {
		g := groups[key]
		if best == nil || g.confMax > best.confMax {
			best = g
		}
	}

	conf := best.confMax
	if best.population > 1 {
		conf = best.confSum/float64(best.population) + bonus
		// Agreement must never score below the strongest agreeing source.
		if conf < best.confMax {
			conf = best.confMax
		}
	}
	return model.Suggestion{Value: best.value, Confidence: capConf(conf), Sources: best.sources}
}

// mergeList unions list-typed contributions with normalized de-duplication.
func mergeList(contribs []contribution, bonus float64) model.Suggestion {
	var union []string
	seen := make(map[string]bool)
	var sources []string
	confSum := 0.0
	for _, c := range contribs {
		sources = append(sources, c.provider)
		confSum += c.confidence
		for _, item := range asStringList(c.value) {
			key := normalizeListItem(item)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			union = append(union, item)
		}
	}
	conf := confSum / float64(len(contribs))
	if len(contribs) > 1 {
		conf += bonus
	}
	return model.Suggestion{Value: union, Confidence: capConf(conf), Sources: sources}
}

// mergeMap unions map-typed contributions (social profiles). On a key
// collision the entry from the more confident provider wins.
func mergeMap(contribs []contribution, bonus float64) model.Suggestion {
	merged := make(map[string]string)
	keyConf := make(map[string]float64)
	var sources []string
	confSum := 0.0
	for _, c := range contribs {
		sources = append(sources, c.provider)
		confSum += c.confidence
		for k, v := range asStringMap(c.value) {
			k = normalizeListItem(k)
			if prev, ok := keyConf[k]; !ok || c.confidence > prev {
				merged[k] = v
				keyConf[k] = c.confidence
			}
		}
	}
	conf := confSum / float64(len(contribs))
	if len(contribs) > 1 {
		conf += bonus
	}
	return model.Suggestion{Value: merged, Confidence: capConf(conf), Sources: sources}
}

func capConf(c float64) float64 {
	if c > 1.0 {
		return 1.0
	}
	if c < 0 {
		return 0
	}
	return c
}

func asStringList(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	default:
		return nil
	}
}

func asStringMap(value any) map[string]string {
	switch v := value.(type) {
	case map[string]string:
		return v
	case map[string]any:
		out := make(map[string]string, len(v))
		for k, item := range v {
			if s, ok := item.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
