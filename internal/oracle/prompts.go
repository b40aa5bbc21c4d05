package oracle

// Task names the judgment being requested. Completers may route tasks to
// different models.
type Task string

const (
	TaskClassify  Task = "classify"
	TaskSummarize Task = "summarize"
	TaskDraft     Task = "draft"
)

const classifyPrompt = `You are an aggressive email triage classifier. Your goal is protecting the user's attention from unsolicited content. Output strict JSON:
{"priority": "high|normal|low", "is_spam": true|false, "spam_confidence": 0.0-1.0, "action": "archive|needs_reply|read_only", "reasons": ["..."]}

MARK AS SPAM (is_spam=true, spam_confidence >= 0.7):
- Donation, fundraising, sponsorship or membership requests, and any request for money that is not a bill you owe
- Marketing, newsletters, promotions, sales pitches, coupons and discounts ("50% off", "limited time", "act now", "today only")
- Anything with "unsubscribe" or "opt-out" links, or sent through a marketing platform
- Retail email that is not an order confirmation, shipping update, return or refund
- Mail from no-reply@, noreply@, marketing@, deals@, offers@ or promotions@ that is not transactional
- Shortened URLs, crypto or investment schemes, prizes, lotteries, inheritance scams, unsolicited account verification

POTENTIAL SPAM (is_spam=false, spam_confidence 0.35-0.7):
- Newsletters the user subscribed to that are mostly promotional
- Receipts or notifications carrying heavy marketing content

NOT SPAM (is_spam=false, spam_confidence < 0.35):
- Direct personal or work email from real people
- Pure transactional receipts, bills, statements, shipping notices, security alerts and support replies

PRIORITY:
- high: urgent deadlines from real people, financial obligations, scheduling, meeting invites, requests due today or ASAP
- normal: standard work and personal correspondence
- low: receipts, notifications, FYI messages

ACTION:
- needs_reply: only when a real person asks a direct question or needs a response
- read_only: informational mail, receipts, notifications
- archive: spam, resolved issues, old threads

If the user already replied in the thread, do not mark it needs_reply. When in doubt, prefer spam or potential spam.`

const summarizePrompt = `Summarize the entire thread in at most 3 sentences.
Also extract: {participants: [name@email], asks: ["..."], dates: [ISO], attachments: ["name.ext"], sentiment: "pos|neu|neg"}.
Return JSON: {summary, participants, asks, dates, attachments, sentiment}.`

const draftPrompt = `Draft 2 concise replies that directly address the sender's asks.
Tone: friendly, crisp, professional; American English; no fluff; under 150 words.
Respect any proposed times; if scheduling, suggest 2 concrete slots in PT.
End with the provided signature if present.
Return JSON: {options: [{title, body, assumptions}], style: "crisp"}.`

var systemPrompts = map[Task]string{
	TaskClassify:  classifyPrompt,
	TaskSummarize: summarizePrompt,
	TaskDraft:     draftPrompt,
}

// SystemPrompt returns the instructions sent with a task
func SystemPrompt(task Task) string {
	return systemPrompts[task]
}
