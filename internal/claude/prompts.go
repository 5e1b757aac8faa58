package claude

// Prompts contains the prompt templates used by the coding and review agents
var Prompts = struct {
	Code   string
	Review string
}{
	Code: `Work on GitHub repository: %s
Local path: %s
Issue #%d: %s
Branch name: %s
Base branch: %s
Iteration: %d/%d

Issue description:
%s

%s
Complete the issue fully: read the relevant code, make the changes, run the
project's linters and tests when they exist, and fix what they report.

You are already on branch %s. You may commit locally with meaningful
messages (reference "#%d"). Do not push, do not switch branches and do not open
pull requests: committing, pushing and the pull request are handled for you
after you finish.

Output "IMPLEMENTATION_COMPLETE" when done.`,

	Review: `You are an AI code reviewer. Review Pull Request #%d in repository %s.

This is iteration %d/%d of the coding-review cycle.

## Pull request
Title: %s
Branch: %s -> %s
Author: %s

%s

## Linked issue
%s

## CI status
%s

## Changed files
%s

## Diff
%s

Review criteria:
- All requirements from the linked issue are addressed
- No obvious bugs, security issues or hardcoded secrets
- Proper error handling and readable code that follows project conventions
- If CI failed, REQUEST_CHANGES and explain what needs to be fixed

Decision guidelines:
- APPROVE when requirements are met, CI passes and no critical issues remain
- REQUEST_CHANGES for failing CI, bugs, security problems or missing requirements
- COMMENT for minor, non-blocking suggestions

Respond with the review itself, in this format:

%s

## Summary
(what the PR does)

## Requirements Check
(one line per requirement)

## Issues Found
(if any, with specific suggestions)

Decision: APPROVE|REQUEST_CHANGES|COMMENT
(reasoning)`,
}
