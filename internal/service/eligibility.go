package service

import (
	"strings"

	"github.com/user/filmrec/internal/config"
	"github.com/user/filmrec/internal/model"
)

// SkipReason 条目被过滤的原因，空字符串表示通过
type SkipReason string

const (
	SkipNone          SkipReason = ""
	SkipExplicit      SkipReason = "explicit"
	SkipLanguage      SkipReason = "language"
	SkipCountry       SkipReason = "country"
	SkipNoGenres      SkipReason = "no_genres"
	SkipRiskyGenres   SkipReason = "risky_genres"
	SkipCertification SkipReason = "certification"
	SkipDuplicate     SkipReason = "duplicate"
	SkipEmbedding     SkipReason = "embedding"
	SkipWrite         SkipReason = "write"
)

// EligibilityFilter 内容过滤器，无状态，可并发使用
type EligibilityFilter struct {
	languages map[string]struct{}
	countries map[string]struct{}
	risky     map[string]struct{}
	safe      map[string]struct{}
}

// NewEligibilityFilter 根据配置的词表创建过滤器
func NewEligibilityFilter(cfg config.FilterConfig) *EligibilityFilter {
	return &EligibilityFilter{
		languages: toSet(cfg.ExcludedLanguages),
		countries: toSet(cfg.ExcludedCountries),
		risky:     toSet(cfg.RiskyGenres),
		safe:      toSet(cfg.SafeGenres),
	}
}

// PreCheck 不需要分级即可判断的规则，按顺序短路
func (f *EligibilityFilter) PreCheck(item *model.CatalogItem) SkipReason {
	if item.Adult {
		return SkipExplicit
	}
	for _, g := range item.Genres {
		if strings.EqualFold(strings.TrimSpace(g), "adult") {
			return SkipExplicit
		}
	}
	if contains(f.languages, item.OriginalLanguage) {
		return SkipLanguage
	}

	for _, c := range item.OriginCountries {
		if contains(f.countries, c) {
			return SkipCountry
		}
	}

	if len(item.Genres) == 0 {
		return SkipNoGenres
	}

	var risky, safe bool
	for _, g := range item.Genres {
		if contains(f.risky, g) {
			risky = true
		}
		if contains(f.safe, g) {
			safe = true
		}
	}
	if risky && !safe {
		return SkipRiskyGenres
	}
	return SkipNone
}

// Check 完整判断，cert 为空表示没有分级
func (f *EligibilityFilter) Check(item *model.CatalogItem, cert string) SkipReason {
	if reason := f.PreCheck(item); reason != SkipNone {
		return reason
	}
	if cert == "" || !model.IsKnownCertification(cert) {
		return SkipCertification
	}
	return SkipNone
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.ToLower(strings.TrimSpace(v)); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

func contains(set map[string]struct{}, v string) bool {
	_, ok := set[strings.ToLower(strings.TrimSpace(v))]
	return ok
}
