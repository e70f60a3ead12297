package mcp

import "github.com/mark3labs/mcp-go/mcp"

var loginToolDef = mcp.NewTool("efact_login",
	mcp.WithDescription("Log in to the e-invoice service. The token is kept for this session and reused by efact_fetch."),
	mcp.WithString("username", mcp.Required(), mcp.Description("Account username")),
	mcp.WithString("password", mcp.Required(), mcp.Description("Account password")),
)

var fetchToolDef = mcp.NewTool("efact_fetch",
	mcp.WithDescription("Fetch a document for a ticket. Structured documents and unzipped receipts are returned as text; "+
		"set include_content to also get the raw bytes as base64."),
	mcp.WithString("kind",
		mcp.Description("Document kind (default: rendered)"),
		mcp.Enum("rendered", "structured", "receipt", "pdf", "xml", "cdr"),
	),
	mcp.WithString("ticket", mcp.Description("Ticket identifying the document; keeps the previous ticket when omitted")),
	mcp.WithBoolean("include_content", mcp.Description("Include the payload as base64 (default: false)")),
)

var saveToolDef = mcp.NewTool("efact_save",
	mcp.WithDescription("Write the last fetched document to a local file."),
	mcp.WithString("path", mcp.Description("Output file (default: ./<ticket>-<kind>.<ext>)")),
	mcp.WithBoolean("overwrite", mcp.Description("Replace an existing file (default: false)")),
)

var logoutToolDef = mcp.NewTool("efact_logout",
	mcp.WithDescription("Log out: clear the stored token and discard the loaded document."),
)

var statusToolDef = mcp.NewTool("efact_status",
	mcp.WithDescription("Report whether the session is logged in and which document is loaded."),
)

var purgeToolDef = mcp.NewTool("efact_purge",
	mcp.WithDescription("Remove stored session tokens that have been idle for a while."),
	mcp.WithNumber("older_than_hours", mcp.Description("Idle threshold in hours (default: session_ttl_hours)")),
)
