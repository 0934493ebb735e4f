/*
Package server publishes IDX datasets over HTTP.  Every request goes to a
single endpoint, /mod_visus, and names its operation with the "action"
parameter:

	GET /mod_visus?action=list
	GET /mod_visus?action=readdataset&dataset=NAME
	GET /mod_visus?action=boxquery&dataset=NAME&field=F&time=T&fromh=0&toh=H&maxh=M&box=X1 X2 Y1 Y2&compression=zip
	GET /mod_visus?action=pointquery&dataset=NAME&field=F&time=T&toh=H&maxh=M&matrix=...&box=...&nsamples=NX NY&compression=zip
	GET /mod_visus?action=readblock&dataset=NAME&field=F&time=T&block=ID&compression=zip

Sample responses carry the visus-dims, visus-dtype, visus-compression and
visus-layout headers so dataset.DecodeSamples can rebuild the array.  Boxes
use the descriptor form where the upper bound of each axis is inclusive.

Datasets are declared in a TOML file:

	[server]
	httpAddress = "localhost:10000"
	allowedOrigins = ["*"]
	maxConcurrentBlocks = 64

	[logging]
	logfile = "/var/log/visus.log"
	max_log_size = 500 # MB
	max_log_age = 30   # days
	level = "info"

	[dataset.cells]
	path = "cells/visus.idx"

	[dataset.cells.access]
	type = "multiplex"

	[[dataset.cells.access.children]]
	type = "ram"
	size = "512MB"

	[[dataset.cells.access.children]]
	type = "disk"

Relative paths are taken relative to the TOML file.
*/
package server
