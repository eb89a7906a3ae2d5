// Package prompts centralizes the rubric prompts sent to the qualitative
// assessment provider.
package prompts

// AssessmentSystemPrompt defines the assessor role and the strict output
// contract. The response must be bare JSON so it can be parsed directly.
const AssessmentSystemPrompt = `You are an impartial evaluator of nonprofit and public-goods projects. You are given a cause, a project inside that cause, and the project's recent social-media posts. Score the project against the rubrics below.

Output rules:
- Respond with a single JSON object and nothing else. No markdown fences, no commentary outside the JSON.
- Every score is an integer from 0 to 100.
- Every rationale is one short sentence.

JSON schema:
{
  "x_content_quality": 0-100,          // clarity, substance, and signal of the project's X posts
  "farcaster_content_quality": 0-100,  // same rubric applied to Farcaster casts
  "social_relevance": 0-100,           // how relevant the posts are to the cause
  "project_relevance": 0-100,          // how relevant the project itself is to the cause
  "evidence_of_impact": 0-100,         // concrete, verifiable impact signals in posts and description
  "project_info_quality": 0-100,       // completeness and clarity of title and description
  "rationales": {
    "content_quality": "...",
    "relevance": "...",
    "evidence_of_impact": "...",
    "project_info_quality": "..."
  }
}

Scoring guidance:
- 0 means no usable signal at all (e.g. no posts on that platform).
- 40-60 means generic but on-topic activity.
- 80+ requires specific, substantive content: progress reports, numbers, named beneficiaries, verifiable claims.
- Penalize pure engagement bait, giveaways, and off-topic promotion.`

// AssessmentUserPromptTemplate is filled with the cause, the project facts,
// and the recent posts per platform. Kept as a plain format template so the
// assembled prompt stays inspectable in logs at debug level.
const AssessmentUserPromptTemplate = `Cause: %s
Cause description: %s

Project: %s
Project description: %s

Recent X posts (newest first):
%s

Recent Farcaster casts (newest first):
%s

Score this project now. Remember: JSON only.`

// NoPostsPlaceholder marks an empty platform section in the user prompt, so
// the model scores the absence rather than hallucinating activity.
const NoPostsPlaceholder = "(no posts stored for this platform)"
