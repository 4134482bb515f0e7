// Package cronjob schedules periodic maintenance jobs with robfig/cron.
package cronjob
