// Package telegram connects the intake dialogue to a Telegram bot via long
// polling. Forwarded channel posts keep their origin channel and message id
// so the source link can be rebuilt; marker lists are sent as inline
// keyboards whose buttons carry the delete selection.
package telegram
