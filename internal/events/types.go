package events

// Type names one kind of bus event. The string values are stable identifiers
// persisted to audit_logs and carried in notification payloads.
type Type string

// Authentication and account events.
const (
	LoginSuccess      Type = "LOGIN_SUCCESS"
	LoginFailure      Type = "LOGIN_FAILURE"
	Logout            Type = "LOGOUT"
	PasswordChanged   Type = "PASSWORD_CHANGED"
	TwoFAEnabled      Type = "2FA_ENABLED"
	TwoFADisabled     Type = "2FA_DISABLED"
	PasskeyRegistered Type = "PASSKEY_REGISTERED"
	PasskeyDeleted    Type = "PASSKEY_DELETED"
)

// Profile and configuration events.
const (
	ConnectionCreated  Type = "CONNECTION_CREATED"
	ConnectionUpdated  Type = "CONNECTION_UPDATED"
	ConnectionDeleted  Type = "CONNECTION_DELETED"
	ProxyCreated       Type = "PROXY_CREATED"
	ProxyUpdated       Type = "PROXY_UPDATED"
	ProxyDeleted       Type = "PROXY_DELETED"
	TagCreated         Type = "TAG_CREATED"
	TagUpdated         Type = "TAG_UPDATED"
	TagDeleted         Type = "TAG_DELETED"
	SettingsUpdated    Type = "SETTINGS_UPDATED"
	IPWhitelistUpdated Type = "IP_WHITELIST_UPDATED"

	NotificationSettingCreated Type = "NOTIFICATION_SETTING_CREATED"
	NotificationSettingUpdated Type = "NOTIFICATION_SETTING_UPDATED"
	NotificationSettingDeleted Type = "NOTIFICATION_SETTING_DELETED"
)

// Session and transfer events.
const (
	SSHConnectSuccess Type = "SSH_CONNECT_SUCCESS"
	SSHConnectFailure Type = "SSH_CONNECT_FAILURE"
	SSHShellFailure   Type = "SSH_SHELL_FAILURE"
	SFTPAction        Type = "SFTP_ACTION"
)

// Process lifecycle events.
const (
	ServerStarted      Type = "SERVER_STARTED"
	ServerError        Type = "SERVER_ERROR"
	DatabaseMigration  Type = "DATABASE_MIGRATION"
	AdminSetupComplete Type = "ADMIN_SETUP_COMPLETE"
	TestNotification   Type = "TestNotification"
)
