// Package subserver manages hot-reloadable plugin units ("subservers") on top
// of the host route table. A Subserver owns the routes its plugin registered
// during the last successful Start and removes exactly those on Unload. The
// Registry discovers subservers from PluginDir plus explicit config entries,
// and the Controller serializes control operations per name so that the HTTP
// control surface and the directory watcher never race on the same subserver.
package subserver
