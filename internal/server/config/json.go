package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/entryledger/internal/flagx"
	"github.com/dmitrijs2005/entryledger/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON unmarshalling.
// It uses timex.Duration for interval fields, which allows parsing both
// string values such as "120h" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. Keys missing from the file keep their current value.
type JsonConfig struct {
	HTTPAddr                 string         `json:"http_addr"`
	DatabaseDSN              string         `json:"database_dsn"`
	IngressSecret            string         `json:"ingress_secret"`
	ReceiverEmail            string         `json:"receiver_email"`
	EntryYear                string         `json:"entry_year"`
	EntriesCloseDate         timex.Date     `json:"entries_close_date"`
	WarnAfter                timex.Duration `json:"warn_after"`
	WithdrawAfter            timex.Duration `json:"withdraw_after"`
	ClosingWarnWindow        timex.Duration `json:"closing_warn_window"`
	OrganizerEmail           string         `json:"organizer_email"`
	SupportEmail             string         `json:"support_email"`
	FromEmail                string         `json:"from_email"`
	SubjectPrefix            string         `json:"subject_prefix"`
	MailDriver               string         `json:"mail_driver"`
	SMTPHost                 string         `json:"smtp_host"`
	SMTPPort                 int            `json:"smtp_port"`
	SMTPUser                 string         `json:"smtp_user"`
	SMTPPassword             string         `json:"smtp_password"`
	SMTPTLS                  string         `json:"smtp_tls"`
	CronWithdrawUnpaid       string         `json:"cron_withdraw_unpaid"`
	CronWarnClosing          string         `json:"cron_warn_closing"`
	CronWarnWithdrawSelected string         `json:"cron_warn_withdraw_selected"`
	CronRemindIncomplete     string         `json:"cron_remind_incomplete"`
	S3AccessKey              string         `json:"s3_access_key"`
	S3SecretKey              string         `json:"s3_secret_key"`
	S3Bucket                 string         `json:"s3_bucket"`
	S3Region                 string         `json:"s3_region"`
	S3BaseEndpoint           string         `json:"s3_base_endpoint"`
	LogFormat                string         `json:"log_format"`
	LogLevel                 string         `json:"log_level"`
}

func toJson(c *Config) *JsonConfig {
	return &JsonConfig{
		HTTPAddr:                 c.HTTPAddr,
		DatabaseDSN:              c.DatabaseDSN,
		IngressSecret:            c.IngressSecret,
		ReceiverEmail:            c.ReceiverEmail,
		EntryYear:                c.EntryYear,
		EntriesCloseDate:         c.EntriesCloseDate,
		WarnAfter:                timex.Duration{Duration: c.WarnAfter},
		WithdrawAfter:            timex.Duration{Duration: c.WithdrawAfter},
		ClosingWarnWindow:        timex.Duration{Duration: c.ClosingWarnWindow},
		OrganizerEmail:           c.OrganizerEmail,
		SupportEmail:             c.SupportEmail,
		FromEmail:                c.FromEmail,
		SubjectPrefix:            c.SubjectPrefix,
		MailDriver:               c.MailDriver,
		SMTPHost:                 c.SMTPHost,
		SMTPPort:                 c.SMTPPort,
		SMTPUser:                 c.SMTPUser,
		SMTPPassword:             c.SMTPPassword,
		SMTPTLS:                  c.SMTPTLS,
		CronWithdrawUnpaid:       c.CronWithdrawUnpaid,
		CronWarnClosing:          c.CronWarnClosing,
		CronWarnWithdrawSelected: c.CronWarnWithdrawSelected,
		CronRemindIncomplete:     c.CronRemindIncomplete,
		S3AccessKey:              c.S3AccessKey,
		S3SecretKey:              c.S3SecretKey,
		S3Bucket:                 c.S3Bucket,
		S3Region:                 c.S3Region,
		S3BaseEndpoint:           c.S3BaseEndpoint,
		LogFormat:                c.LogFormat,
		LogLevel:                 c.LogLevel,
	}
}

func (j *JsonConfig) apply(c *Config) {
	c.HTTPAddr = j.HTTPAddr
	c.DatabaseDSN = j.DatabaseDSN
	c.IngressSecret = j.IngressSecret
	c.ReceiverEmail = j.ReceiverEmail
	c.EntryYear = j.EntryYear
	c.EntriesCloseDate = j.EntriesCloseDate
	c.WarnAfter = time.Duration(j.WarnAfter.Duration)
	c.WithdrawAfter = time.Duration(j.WithdrawAfter.Duration)
	c.ClosingWarnWindow = time.Duration(j.ClosingWarnWindow.Duration)
	c.OrganizerEmail = j.OrganizerEmail
	c.SupportEmail = j.SupportEmail
	c.FromEmail = j.FromEmail
	c.SubjectPrefix = j.SubjectPrefix
	c.MailDriver = j.MailDriver
	c.SMTPHost = j.SMTPHost
	c.SMTPPort = j.SMTPPort
	c.SMTPUser = j.SMTPUser
	c.SMTPPassword = j.SMTPPassword
	c.SMTPTLS = j.SMTPTLS
	c.CronWithdrawUnpaid = j.CronWithdrawUnpaid
	c.CronWarnClosing = j.CronWarnClosing
	c.CronWarnWithdrawSelected = j.CronWarnWithdrawSelected
	c.CronRemindIncomplete = j.CronRemindIncomplete
	c.S3AccessKey = j.S3AccessKey
	c.S3SecretKey = j.S3SecretKey
	c.S3Bucket = j.S3Bucket
	c.S3Region = j.S3Region
	c.S3BaseEndpoint = j.S3BaseEndpoint
	c.LogFormat = j.LogFormat
	c.LogLevel = j.LogLevel
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path comes from the -c or -config command-line flags. If neither
// is set no JSON file is loaded. If the file cannot be read or contains
// invalid JSON, the function panics.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := toJson(config)

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	c.apply(config)
}
