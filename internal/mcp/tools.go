package mcp

import "github.com/mark3labs/mcp-go/mcp"

const (
	idDesc   = "Model ULID. Use either id or name."
	nameDesc = "Model name (case and whitespace insensitive). Use either id or name."
)

var fitToolDef = mcp.NewTool("model_fit",
	mcp.WithDescription("Train a tabular synthesizer on a CSV file and store it in the registry. "+
		"Columns are numerical unless listed in discrete or typed by a metadata file."),
	mcp.WithString("data_path", mcp.Required(), mcp.Description("Absolute path of the training CSV (first row is the header).")),
	mcp.WithString("metadata_path", mcp.Description("Metadata JSON: {\"columns\": {name: {\"sdtype\": ...}}}. Overrides discrete.")),
	mcp.WithArray("discrete", mcp.WithStringItems(), mcp.Description("Names of discrete (categorical) columns.")),
	mcp.WithString("name", mcp.Description("Optional unique model name.")),
	mcp.WithString("mode", mcp.Enum("error", "replace"), mcp.Description("Name collision behavior. Default: error.")),
	mcp.WithNumber("epochs", mcp.Description("Training epochs. Default from config.")),
	mcp.WithNumber("batch_size", mcp.Description("Batch size; must be a multiple of pac.")),
	mcp.WithNumber("pac", mcp.Description("Rows per critic pack.")),
	mcp.WithNumber("seed", mcp.Description("Random seed for a reproducible fit.")),
	mcp.WithNumber("max_steps", mcp.Description("Stop after this many training steps.")),
)

var sampleToolDef = mcp.NewTool("model_sample",
	mcp.WithDescription("Generate synthetic rows from a stored model. Writes a CSV file, or returns it inline."),
	mcp.WithString("id", mcp.Description(idDesc)),
	mcp.WithString("name", mcp.Description(nameDesc)),
	mcp.WithNumber("rows", mcp.Required(), mcp.Description("Number of rows to generate.")),
	mcp.WithString("output_path", mcp.Description("Destination .csv path. Default: ~/.tabsynth/samples/<name>-<time>.csv.")),
	mcp.WithBoolean("inline", mcp.Description("Return the CSV text instead of writing a file.")),
	mcp.WithObject("conditions", mcp.Description("Discrete column -> value every row must hold.")),
	mcp.WithNumber("max_retries", mcp.Description("Extra batches allowed for conditional sampling.")),
	mcp.WithBoolean("best_effort", mcp.Description("Return the rows gathered when retries run out instead of failing.")),
	mcp.WithNumber("seed", mcp.Description("Random seed for reproducible sampling.")),
)

var listToolDef = mcp.NewTool("model_list",
	mcp.WithDescription("List stored models, newest first."),
	mcp.WithNumber("limit", mcp.Description("Page size (default 20, max 100).")),
	mcp.WithNumber("offset", mcp.Description("Page offset.")),
)

var fetchToolDef = mcp.NewTool("model_fetch",
	mcp.WithDescription("Fetch a model's summary, configuration, schema and per-epoch losses."),
	mcp.WithString("id", mcp.Description(idDesc)),
	mcp.WithString("name", mcp.Description(nameDesc)),
)

var deleteToolDef = mcp.NewTool("model_delete",
	mcp.WithDescription("Permanently delete a model and its loss history."),
	mcp.WithString("id", mcp.Description(idDesc)),
	mcp.WithString("name", mcp.Description(nameDesc)),
)

var renameToolDef = mcp.NewTool("model_rename",
	mcp.WithDescription("Rename a model, or clear its name with an empty new_name."),
	mcp.WithString("id", mcp.Description(idDesc)),
	mcp.WithString("name", mcp.Description(nameDesc)),
	mcp.WithString("new_name", mcp.Description("New unique name.")),
)

var reportToolDef = mcp.NewTool("model_report",
	mcp.WithDescription("Render a markdown report: column layout, modes and loss history."),
	mcp.WithString("id", mcp.Description(idDesc)),
	mcp.WithString("name", mcp.Description(nameDesc)),
)
