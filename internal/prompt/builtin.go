package prompt

// Template names.
const (
	ExplainTemplate = "explain.md"
	ReportTemplate  = "report.md"
)

// builtinTemplates maps template filename to content.
var builtinTemplates = map[string]string{
	ExplainTemplate: explainTemplate,
	ReportTemplate:  reportTemplate,
}

const explainTemplate = `You are reviewing the results of an automated static analysis of {{repo_url}}{{#if ref}} at {{ref}}{{/if}}.

The tools reported {{finding_count}} findings across style, security and performance.

## Findings
{{findings}}
{{#if diagnostics}}
## Tools that did not complete
{{diagnostics}}
{{/if}}
## Instructions
1. Summarize the overall health of the repository in two or three sentences.
2. Call out the most important security findings first, then performance, then style.
3. Group related findings instead of repeating each one.
4. Suggest concrete next steps a maintainer can act on this week.
5. Do not invent findings that are not listed above.
`

const reportTemplate = `# Code review: {{repo_url}}

Run: {{run_id}}{{#if ref}}
Ref: {{ref}}{{/if}}
Generated: {{generated_at}}

## Summary
| Category | Findings |
|---|---|
| Style | {{style_count}} |
| Security | {{security_count}} |
| Performance | {{performance_count}} |
| **Total** | **{{finding_count}}** |
{{#if explanation}}
## Assessment
{{explanation}}
{{/if}}{{#if generator_error}}
> The written assessment is unavailable: {{generator_error}}
{{/if}}{{#if diagnostics}}
## Incomplete analysis
{{diagnostics}}
{{/if}}
## Findings
{{findings}}
`
