package risk

import (
	"fmt"
	"time"

	"dex-copy-engine/internal/domain"
)

type sourceSet map[domain.SignalSource]bool

func sources(src ...domain.SignalSource) sourceSet {
	s := make(sourceSet, len(src))
	for _, v := range src {
		s[v] = true
	}
	return s
}

var broadSources = sources(domain.SourceAnalyzer, domain.SourceTwitterKOL, domain.SourceMeme, domain.SourceRange, domain.SourceFusion)

// followSources maps each follow strategy to the signal sources it accepts.
var followSources = map[domain.FollowStrategy]sourceSet{
	domain.FollowAll:        broadSources,
	domain.FollowWhitelist:  broadSources,
	domain.FollowTopSignals: sources(domain.SourceAnalyzer, domain.SourceFusion),
	domain.FollowTwitterKOL: sources(domain.SourceTwitterKOL),
	domain.FollowTelegram:   sources(domain.SourceTelegram),
	domain.FollowMeme:       sources(domain.SourceMeme, domain.SourceTelegram),
	domain.FollowFusion:     sources(domain.SourceAnalyzer, domain.SourceTelegram, domain.SourceTwitterKOL, domain.SourceMeme, domain.SourceFusion),
	domain.FollowRange:      sources(domain.SourceRange),
}

// matchFollowStrategy returns the code and reason when the strategy does not follow the signal.
func (g *Gate) matchFollowStrategy(s *domain.StrategyConfig, sig *domain.Signal, now time.Time) (string, string, bool) {
	follow := s.FollowStrategy
	if follow == "" {
		follow = domain.FollowAll
	}
	accepted, ok := followSources[follow]
	if !ok {
		return CodeFollowStrategy, fmt.Sprintf("Unknown follow strategy %s", follow), false
	}

	src := sig.ResolvedSource()
	if !accepted[src] {
		return CodeFollowStrategy, fmt.Sprintf("Follow strategy %s does not accept %s signals", follow, src), false
	}

	age := sig.Age(now)
	switch src {
	case domain.SourceMeme:
		if age > g.memeMaxAge {
			return CodeSignalAge, fmt.Sprintf("Meme signal too old: %s > %s", age.Round(time.Second), g.memeMaxAge), false
		}
	case domain.SourceRange:
		if age > g.rangeMaxAge {
			return CodeSignalAge, fmt.Sprintf("Range signal too old: %s > %s", age.Round(time.Second), g.rangeMaxAge), false
		}
	}

	switch follow {
	case domain.FollowWhitelist:
		if !s.Whitelist.Empty() && !s.Whitelist.Contains(sig.Token) {
			return CodeNotWhitelisted, fmt.Sprintf("Token %s not in whitelist", domain.NormalizeSymbol(sig.Token)), false
		}
	case domain.FollowTopSignals, domain.FollowFusion:
		if sig.Confidence < s.MinConfidence {
			return CodeConfidence, fmt.Sprintf("Confidence %.1f below %.1f", sig.Confidence, s.MinConfidence), false
		}
	}
	return "", "", true
}
