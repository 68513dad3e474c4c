package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"outreach-agent-go/internal/agent"
	"outreach-agent-go/internal/storage"
	"outreach-agent-go/internal/types"
)

func newTestAnalyzer(t *testing.T, model agent.StructuredChatModel) *Analyzer {
	t.Helper()
	store := seedRetrieverStore(t)
	retriever := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{1, 0}}, 5, 0.1)
	return NewAnalyzer(retriever, model)
}

const analyzerModelOutput = `{
	"candidate_name": "Alice Chen",
	"years_of_experience": 8,
	"current_role": "Staff Engineer",
	"top_skills": ["Go", "Kubernetes"],
	"key_projects": [{"name": "Payments", "tech_stack": ["Go"], "impact": "Cut latency by 40%"}],
	"education": [{"degree": "B.S. CS", "institution": "Example University", "year": "2016"}],
	"strengths": ["systems design"],
	"red_flags": [{"flag": "No recent management experience", "severity": "low", "evidence": "roles listed"}],
	"summary": "Strong backend engineer.",
	"sources": [{"section": "fabricated", "relevance": "99%", "key_info": "model-invented"}]
}`

func TestAnalyzeHappyPath(t *testing.T) {
	model := agent.NewMockChatModel(analyzerModelOutput, nil)
	a := newTestAnalyzer(t, model)

	result, err := a.Analyze(context.Background(), AnalyzeRequest{
		Query: "Evaluate backend experience",
		DocID: "resume_a",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.Data)

	assert.Equal(t, "Alice Chen", result.Data.CandidateName)
	assert.Equal(t, 8.0, result.Data.YearsOfExperience)
	assert.Equal(t, []string{"Go", "Kubernetes"}, result.Data.TopSkills)
	require.Len(t, result.Data.RedFlags, 1)
	assert.Equal(t, "low", result.Data.RedFlags[0].Severity)
	assert.Nil(t, result.Data.JobFitAnalysis)

	// 来源必须来自检索元数据，模型伪造的sources被覆盖
	require.NotEmpty(t, result.Data.Sources)
	for _, src := range result.Data.Sources {
		assert.NotEqual(t, "fabricated", src.Section)
	}

	assert.Equal(t, len(result.Data.Sources), result.Metadata.ChunksAnalyzed)
	assert.False(t, result.Metadata.HasJobFitAnalysis)
	assert.Equal(t, "Evaluate backend experience", result.Metadata.QueryUsed)

	// 提示词里必须带上拼装好的检索上下文
	require.Len(t, model.ReceivedRequests, 1)
	assert.Contains(t, model.ReceivedRequests[0].User, "Section 1: EXPERIENCE")
	assert.True(t, model.ReceivedRequests[0].JSONResponse)
}

func TestAnalyzeWithJobDescription(t *testing.T) {
	output := `{
		"candidate_name": "Alice Chen",
		"summary": "ok",
		"job_fit_analysis": {
			"fit_score": 72,
			"matching_skills": ["Go"],
			"missing_skills": ["Rust"],
			"recommendation": "Proceed to interview"
		}
	}`
	model := agent.NewMockChatModel(output, nil)
	a := newTestAnalyzer(t, model)

	result, err := a.Analyze(context.Background(), AnalyzeRequest{
		Query:          "Evaluate fit",
		JobDescription: "Senior Go engineer, Rust a plus",
		DocID:          "resume_a",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.NotNil(t, result.Data.JobFitAnalysis)

	assert.Equal(t, 72.0, result.Data.JobFitAnalysis.FitScore)
	assert.Equal(t, []string{"Rust"}, result.Data.JobFitAnalysis.MissingSkills)
	assert.True(t, result.Metadata.HasJobFitAnalysis)

	// 岗位描述进入检索查询，提示词里要求job_fit_analysis
	assert.Contains(t, result.Metadata.QueryUsed, "Job Requirements:")
	require.Len(t, model.ReceivedRequests, 1)
	assert.Contains(t, model.ReceivedRequests[0].User, "job_fit_analysis")
}

func TestAnalyzeNoContextIsNotAnError(t *testing.T) {
	model := agent.NewMockChatModel("{}", nil)
	store := storage.NewMemoryVectorStore()
	retriever := NewRetriever(store, &fixedQueryEmbedder{vector: []float64{1, 0}}, 5, 0.1)
	a := NewAnalyzer(retriever, model)

	result, err := a.Analyze(context.Background(), AnalyzeRequest{Query: "anything", DocID: "resume_x"})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Reason, ErrNoContext.Error())
	assert.Nil(t, result.Data)
	// 无上下文时不应浪费一次模型调用
	assert.Empty(t, model.ReceivedRequests)
}

func TestAnalyzeModelFailure(t *testing.T) {
	model := agent.NewMockChatModel("", errors.New("model overloaded"))
	a := newTestAnalyzer(t, model)

	_, err := a.Analyze(context.Background(), AnalyzeRequest{Query: "anything", DocID: "resume_a"})
	require.Error(t, err)
	assert.Equal(t, StepAnalysis, StepOf(err))
	assert.True(t, errors.Is(err, ErrAnalysisFailed))
}

func TestAnalyzeMalformedModelOutput(t *testing.T) {
	model := agent.NewMockChatModel("not json at all", nil)
	a := newTestAnalyzer(t, model)

	_, err := a.Analyze(context.Background(), AnalyzeRequest{Query: "anything", DocID: "resume_a"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAnalysisFailed))
}

func TestAnalyzeToleratesMarkdownFences(t *testing.T) {
	model := agent.NewMockChatModel("```json\n{\"candidate_name\": \"Alice\", \"summary\": \"ok\"}\n```", nil)
	a := newTestAnalyzer(t, model)

	result, err := a.Analyze(context.Background(), AnalyzeRequest{Query: "anything", DocID: "resume_a"})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "Alice", result.Data.CandidateName)
}

func TestNormalizeProfileKeyVariants(t *testing.T) {
	raw := map[string]interface{}{
		"candidateName":     "Bob",
		"currentRole":       "SRE",
		"topSkills":         []interface{}{"Go", map[string]interface{}{"skill": "Terraform"}},
		"experience_years":  nil,
		"yearsOfExperience": "5 years",
		"concerns":          []interface{}{"frequent job changes"},
		"overview":          "summary text",
	}

	profile := normalizeProfile(raw)
	assert.Equal(t, "Bob", profile.CandidateName)
	assert.Equal(t, "SRE", profile.CurrentRole)
	assert.Equal(t, 5.0, profile.YearsOfExperience)
	assert.Equal(t, []string{"Go", "Terraform"}, profile.TopSkills)
	require.Len(t, profile.RedFlags, 1)
	assert.Equal(t, "frequent job changes", profile.RedFlags[0].Flag)
	assert.Equal(t, "medium", profile.RedFlags[0].Severity)
	assert.Equal(t, "summary text", profile.Summary)
}

func TestNormalizeProfileSkillsObjectBecomesSortedKeys(t *testing.T) {
	raw := map[string]interface{}{
		"skills": map[string]interface{}{"Go": "expert", "Docker": "advanced"},
	}
	profile := normalizeProfile(raw)
	assert.Equal(t, []string{"Docker", "Go"}, profile.TopSkills)
}

func TestNormalizeProfileSynthesizesJobFitFromLooseFields(t *testing.T) {
	raw := map[string]interface{}{
		"candidate_name":  "Bob",
		"fit_score":       61.5,
		"matching_skills": []interface{}{"Go"},
		"missing_skills":  []interface{}{"Kafka"},
		"recommendation":  "Consider with reservations",
	}
	profile := normalizeProfile(raw)
	require.NotNil(t, profile.JobFitAnalysis)
	assert.Equal(t, 61.5, profile.JobFitAnalysis.FitScore)
	assert.Equal(t, []string{"Kafka"}, profile.JobFitAnalysis.MissingSkills)
}

func TestAnalyzeSkillMatch(t *testing.T) {
	model := agent.NewMockChatModel("{}", nil)
	a := newTestAnalyzer(t, model)

	result, err := a.AnalyzeSkillMatch(context.Background(),
		[]string{"Go", "Kubernetes", "Rust"}, DocFilter("resume_a"))
	require.NoError(t, err)

	assert.Equal(t, 3, result.TotalRequired)
	assert.Equal(t, 2, result.TotalFound)
	assert.Equal(t, "66.7%", result.MatchRate)
	assert.Equal(t, []string{"Go", "Kubernetes"}, result.FoundSkills)
	assert.Equal(t, []string{"Rust"}, result.MissingSkills)

	require.True(t, result.Details["Go"].Found)
	require.NotEmpty(t, result.Details["Go"].Evidence)
	assert.Contains(t, result.Details["Go"].Evidence[0], "Go")
	assert.False(t, result.Details["Rust"].Found)
	assert.Empty(t, result.Details["Rust"].Evidence)

	// 完全不经过大模型
	assert.Empty(t, model.ReceivedRequests)
}

func TestAnalyzeSkillMatchNoSkills(t *testing.T) {
	model := agent.NewMockChatModel("{}", nil)
	a := newTestAnalyzer(t, model)

	result, err := a.AnalyzeSkillMatch(context.Background(), nil, DocFilter("resume_a"))
	require.NoError(t, err)
	assert.Equal(t, 0, result.TotalRequired)
	assert.Equal(t, "0.0%", result.MatchRate)
}

func TestResumeParserParse(t *testing.T) {
	output := `{
		"fullName": "Jane Smith",
		"currentRole": "Platform Engineer",
		"yearsOfExperience": 9,
		"skills": ["Go", "Terraform"],
		"summary": "Infra specialist.",
		"experiences": [{"company": "Acme", "role": "SRE", "duration": "2019-2024", "description": "Ran the platform."}],
		"cleanedText": "Jane Smith. Platform Engineer."
	}`
	model := agent.NewMockChatModel(output, nil)
	p := NewResumeParser(model, nil, "test-model", 0)

	parsed, err := p.Parse(context.Background(), "Jane Smith\nPlatform Engineer\n...")
	require.NoError(t, err)
	assert.Equal(t, "Jane Smith", parsed.FullName)
	assert.Equal(t, 9.0, parsed.YearsOfExperience)
	require.Len(t, parsed.Experiences, 1)
	assert.Equal(t, "Acme", parsed.Experiences[0].Company)
}

// recordingUserStore 记录写入调用的UserStore桩
type recordingUserStore struct {
	userID string
	docID  string
	parsed *types.ParsedResume
	putErr error
}

func (s *recordingUserStore) PutResumeProfile(ctx context.Context, userID, docID, parserModel string, parsed *types.ParsedResume) error {
	s.userID = userID
	s.docID = docID
	s.parsed = parsed
	return s.putErr
}

func (s *recordingUserStore) GetResumeProfile(ctx context.Context, userID string) (*types.ParsedResume, error) {
	return s.parsed, nil
}

func TestResumeParserParseAndPersist(t *testing.T) {
	output := `{"fullName": "Jane Smith", "yearsOfExperience": 9}`
	store := &recordingUserStore{}
	p := NewResumeParser(agent.NewMockChatModel(output, nil), store, "test-model", 0)

	parsed := p.ParseAndPersist(context.Background(), "jane", "resume_jane", "resume text")
	require.NotNil(t, parsed)
	assert.Equal(t, "jane", store.userID)
	assert.Equal(t, "resume_jane", store.docID)
	assert.Equal(t, "Jane Smith", store.parsed.FullName)
}

func TestResumeParserFailureIsNonFatal(t *testing.T) {
	store := &recordingUserStore{}
	p := NewResumeParser(agent.NewMockChatModel("", errors.New("model down")), store, "test-model", 0)

	parsed := p.ParseAndPersist(context.Background(), "jane", "resume_jane", "resume text")
	assert.Nil(t, parsed)
	assert.Empty(t, store.userID, "解析失败时不应触发持久化")
}
