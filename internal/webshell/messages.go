package webshell

// User-facing notices stored as one-shot session fields.
const (
	msgInvalidPort       = "Invalid port number '%s'."
	msgMissingFields     = "Please fill in host, username and command."
	msgMissingCredential = "Please provide a password or a private key file."
	msgKeyLoadFailed     = "Could not load the private key. The format or passphrase is wrong, or the key type is not supported."
	msgAuthFailed        = "Authentication failed. Check the username, password or key."
	msgConnectFailed     = "SSH connection error: %v"
	msgUnexpectedConnect = "Unexpected error while connecting: %v"
	msgConnected         = "Connected to %s."
	msgExecFailed        = "Command execution failed. The connection may have been closed."
	msgDisconnected      = "Disconnected and cleared the output history."
)
