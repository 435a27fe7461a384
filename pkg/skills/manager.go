// Package skills is the system's long-term memory: named skills persisted
// locally (code + JSON-Schema description) and mirrored into a vector
// dataset for retrieval.
package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/ternarybob/arbor"

	"github.com/imjszhang/wiseflow/internal/fileutil"
	"github.com/imjszhang/wiseflow/pkg/cache"
	"github.com/imjszhang/wiseflow/pkg/llm"
	"github.com/imjszhang/wiseflow/pkg/prompts"
	"github.com/imjszhang/wiseflow/pkg/vectordb"
)

// Skill is a stored library entry.
type Skill struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// InvariantViolationError reports a failed post-condition between the local
// skill dictionary and the vector dataset. It is fatal for the current
// rollout.
type InvariantViolationError struct {
	Reason string
}

func (e *InvariantViolationError) Error() string {
	return "skill invariant violation: " + e.Reason
}

// Config holds skill manager settings.
type Config struct {
	CkptDir       string
	DatasetName   string
	RetrievalTopK int
	CacheSize     int
	Resume        bool
	MaxRetries    int
}

// Manager owns the skill dictionary, the on-disk skill files, and the
// dataset synchronization. No other component writes these.
type Manager struct {
	cfg      Config
	provider llm.Provider
	dataset  vectordb.Dataset
	prompts  *prompts.Store
	log      arbor.ILogger

	skills map[string]Skill
	cache  *cache.LRU[Skill]
}

// NewManager creates a manager. When resume is enabled the local dictionary
// is rebuilt from skills.json.
func NewManager(cfg Config, provider llm.Provider, dataset vectordb.Dataset, store *prompts.Store, log arbor.ILogger) (*Manager, error) {
	if cfg.RetrievalTopK <= 0 {
		cfg.RetrievalTopK = 5
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 100
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}

	m := &Manager{
		cfg:      cfg,
		provider: provider,
		dataset:  dataset,
		prompts:  store,
		log:      log,
		skills:   make(map[string]Skill),
		cache:    cache.NewLRU[Skill](cfg.CacheSize),
	}

	for _, dir := range []string{m.codeDir(), m.descriptionDir()} {
		if err := fileutil.EnsureDir(dir); err != nil {
			return nil, fmt.Errorf("create skill dir: %w", err)
		}
	}

	if cfg.Resume {
		if err := fileutil.ReadJSON(m.skillsPath(), &m.skills); err != nil {
			m.log.Warn().Err(err).Msg("no previous skills loaded")
			m.skills = make(map[string]Skill)
		}
		for name, skill := range m.skills {
			m.cache.Add(name, skill)
		}
	}

	return m, nil
}

// Sync makes sure the dataset exists and mirrors any resumed skills that are
// missing from it (a fresh local dataset starts empty on every process).
func (m *Manager) Sync(ctx context.Context) error {
	if err := m.dataset.Ensure(ctx); err != nil {
		return fmt.Errorf("ensure dataset: %w", err)
	}

	count, err := m.dataset.DocumentCount(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if count >= len(m.skills) {
		return nil
	}

	existing := make(map[string]bool)
	docs, err := m.listAllDocuments(ctx)
	if err != nil {
		return err
	}
	for _, doc := range docs {
		existing[doc.Name] = true
	}
	for name, skill := range m.skills {
		if existing[name] {
			continue
		}
		if err := m.dataset.CreateDocumentByText(ctx, name, skill.Code); err != nil {
			return fmt.Errorf("mirror skill %s: %w", name, err)
		}
	}
	return nil
}

// AddNewSkill generates the JSON-Schema description for the program, inserts
// the document into the dataset, and persists code and description to disk
// under a versioned filename. The self-consistency invariant is checked
// after the mutation.
func (m *Manager) AddNewSkill(ctx context.Context, name, code string) error {
	m.log.Info().Str("skill", name).Msg("adding skill")

	description, err := m.GenerateSkillDescription(ctx, name, code)
	if err != nil {
		return err
	}

	if _, exists := m.skills[name]; exists {
		if err := m.dataset.DeleteDocumentByName(ctx, name); err != nil {
			return fmt.Errorf("delete stale document %s: %w", name, err)
		}
	}

	fileBase := m.nextFileBase(name)

	if err := m.dataset.CreateDocumentByText(ctx, name, code); err != nil {
		return fmt.Errorf("create document %s: %w", name, err)
	}

	if err := fileutil.WriteFile(filepath.Join(m.codeDir(), fileBase+".py"), []byte(code)); err != nil {
		return fmt.Errorf("write skill code: %w", err)
	}
	if err := fileutil.WriteFile(filepath.Join(m.descriptionDir(), fileBase+".txt"), []byte(description)); err != nil {
		return fmt.Errorf("write skill description: %w", err)
	}

	m.skills[name] = Skill{Code: code, Description: description}
	m.cache.Add(name, m.skills[name])

	if err := fileutil.WriteJSONAtomic(m.skillsPath(), m.skills); err != nil {
		return fmt.Errorf("persist skills: %w", err)
	}

	return m.checkInvariants(ctx)
}

// RetrieveSkills returns the code of skills whose names contain the query
// (case-insensitive), up to the retrieval cap. Semantic re-ranking is the
// dataset's own concern when its index supports it.
func (m *Manager) RetrieveSkills(ctx context.Context, query string) ([]string, error) {
	docs, err := m.listAllDocuments(ctx)
	if err != nil {
		return nil, err
	}

	lower := strings.ToLower(query)
	var retrieved []string
	var matched []string
	for _, doc := range docs {
		if len(retrieved) >= m.cfg.RetrievalTopK {
			break
		}
		if !strings.Contains(strings.ToLower(doc.Name), lower) {
			continue
		}
		if skill, ok := m.cache.Get(doc.Name); ok {
			retrieved = append(retrieved, skill.Code)
		} else {
			retrieved = append(retrieved, m.skills[doc.Name].Code)
		}
		matched = append(matched, doc.Name)
	}

	m.log.Info().Str("query", query).Str("matched", strings.Join(matched, ", ")).Msg("retrieved skills")
	return retrieved, nil
}

// GetSkill returns a skill from the local dictionary.
func (m *Manager) GetSkill(name string) (Skill, bool) {
	if skill, ok := m.cache.Get(name); ok {
		return skill, true
	}
	skill, ok := m.skills[name]
	return skill, ok
}

// GetSkillCode returns just the code body of a skill.
func (m *Manager) GetSkillCode(name string) (string, bool) {
	skill, ok := m.GetSkill(name)
	return skill.Code, ok
}

// ListSkills returns the local skill names.
func (m *Manager) ListSkills() []string {
	names := make([]string, 0, len(m.skills))
	for name := range m.skills {
		names = append(names, name)
	}
	return names
}

// GenerateSkillDescription asks the LLM for a JSON-Schema description of the
// function. Fails when the answer does not parse as JSON.
func (m *Manager) GenerateSkillDescription(ctx context.Context, name, code string) (string, error) {
	system, err := m.prompts.Render("skill/skill_description", map[string]string{
		"function_name": name,
		"code":          code,
	})
	if err != nil {
		return "", err
	}

	resp, err := llm.ChatWithRetry(ctx, m.provider, &llm.Request{
		Query:  "Please generate a skill description based on the provided code.",
		User:   "SkillManager",
		Inputs: map[string]string{"system": system},
	}, m.cfg.MaxRetries)
	if err != nil {
		return "", fmt.Errorf("generate description for %s: %w", name, err)
	}

	schema := extractSchema(resp.Answer)
	var parsed map[string]any
	if err := json.Unmarshal([]byte(schema), &parsed); err != nil {
		return "", fmt.Errorf("description for %s is not valid JSON: %w", name, err)
	}
	return schema, nil
}

// ReviewSkill runs the auxiliary review pass.
func (m *Manager) ReviewSkill(ctx context.Context, name, code string) (map[string]any, error) {
	system, err := m.prompts.Render("skill/skill_review", map[string]string{
		"skill_name": name,
		"skill_code": code,
	})
	if err != nil {
		return nil, err
	}
	resp, err := llm.ChatWithRetry(ctx, m.provider, &llm.Request{
		Query:  "Please review this skill and provide detailed feedback.",
		User:   "SkillManager",
		Inputs: map[string]string{"system": system},
	}, m.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"review":    resp.Answer,
		"timestamp": time.Now().Unix(),
	}, nil
}

// AnalyzeSkill runs the auxiliary analysis pass.
func (m *Manager) AnalyzeSkill(ctx context.Context, content string) (map[string]any, error) {
	system, err := m.prompts.Render("skill/skill_analysis", map[string]string{
		"skill_content": content,
	})
	if err != nil {
		return nil, err
	}
	resp, err := llm.ChatWithRetry(ctx, m.provider, &llm.Request{
		Query:  "Please analyze this skill and provide detailed insights.",
		User:   "SkillManager",
		Inputs: map[string]string{"system": system},
	}, m.cfg.MaxRetries)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"analysis":  resp.Answer,
		"timestamp": time.Now().Unix(),
	}, nil
}

// checkInvariants posts the self-consistency conditions after a mutation.
func (m *Manager) checkInvariants(ctx context.Context) error {
	count, err := m.dataset.DocumentCount(ctx)
	if err != nil {
		return fmt.Errorf("count documents: %w", err)
	}
	if count != len(m.skills) {
		return &InvariantViolationError{
			Reason: fmt.Sprintf("dataset has %d documents, local dictionary has %d skills", count, len(m.skills)),
		}
	}

	for name := range m.skills {
		base := m.latestFileBase(name)
		if !fileutil.IsFile(filepath.Join(m.codeDir(), base+".py")) {
			return &InvariantViolationError{Reason: fmt.Sprintf("missing code file for %s", name)}
		}
		if !fileutil.IsFile(filepath.Join(m.descriptionDir(), base+".txt")) {
			return &InvariantViolationError{Reason: fmt.Sprintf("missing description file for %s", name)}
		}
		if !m.versionsDense(name) {
			return &InvariantViolationError{Reason: fmt.Sprintf("version gap in files for %s", name)}
		}
	}
	return nil
}

// nextFileBase picks the filename base for the next write: the bare name for
// a first add, otherwise the smallest dense nameVk not yet on disk.
func (m *Manager) nextFileBase(name string) string {
	if !fileutil.IsFile(filepath.Join(m.codeDir(), name+".py")) {
		return name
	}
	for k := 2; ; k++ {
		base := fmt.Sprintf("%sV%d", name, k)
		if !fileutil.IsFile(filepath.Join(m.codeDir(), base+".py")) {
			return base
		}
	}
}

// latestFileBase returns the highest version base present on disk.
func (m *Manager) latestFileBase(name string) string {
	base := name
	for k := 2; ; k++ {
		candidate := fmt.Sprintf("%sV%d", name, k)
		if !fileutil.IsFile(filepath.Join(m.codeDir(), candidate+".py")) {
			return base
		}
		base = candidate
	}
}

// versionsDense verifies the suffix set {'', V2, ..., Vk} is contiguous.
func (m *Manager) versionsDense(name string) bool {
	versions := m.diskVersions(name)
	if !versions[1] {
		return false
	}
	max := 1
	for k := range versions {
		if k > max {
			max = k
		}
	}
	for k := 2; k <= max; k++ {
		if !versions[k] {
			return false
		}
	}
	return true
}

// diskVersions maps version numbers (1 for the bare name) to presence of a
// code file on disk.
func (m *Manager) diskVersions(name string) map[int]bool {
	versions := make(map[int]bool)
	entries, err := filepath.Glob(filepath.Join(m.codeDir(), name+"*.py"))
	if err != nil {
		return versions
	}
	for _, path := range entries {
		base := strings.TrimSuffix(filepath.Base(path), ".py")
		if base == name {
			versions[1] = true
			continue
		}
		rest := strings.TrimPrefix(base, name)
		if len(rest) < 2 || rest[0] != 'V' {
			continue
		}
		var k int
		if _, err := fmt.Sscanf(rest[1:], "%d", &k); err == nil && k >= 2 {
			versions[k] = true
		}
	}
	return versions
}

func (m *Manager) listAllDocuments(ctx context.Context) ([]vectordb.Document, error) {
	var all []vectordb.Document
	for page := 1; ; page++ {
		docs, err := m.dataset.ListDocuments(ctx, "", page, 100)
		if err != nil {
			return nil, fmt.Errorf("list documents: %w", err)
		}
		all = append(all, docs...)
		if len(docs) < 100 {
			return all, nil
		}
	}
}

func (m *Manager) skillsPath() string {
	return filepath.Join(m.cfg.CkptDir, "skill", "skills.json")
}

func (m *Manager) codeDir() string {
	return filepath.Join(m.cfg.CkptDir, "skill", "code")
}

func (m *Manager) descriptionDir() string {
	return filepath.Join(m.cfg.CkptDir, "skill", "description")
}

// extractSchema strips an optional markdown fence from the LLM answer.
func extractSchema(answer string) string {
	answer = strings.TrimSpace(answer)
	if strings.HasPrefix(answer, "```") {
		if idx := strings.Index(answer, "\n"); idx >= 0 {
			answer = answer[idx+1:]
		}
		answer = strings.TrimSuffix(strings.TrimSpace(answer), "```")
	}
	return strings.TrimSpace(answer)
}
