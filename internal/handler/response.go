package handler

import (
	"net/http"

	"github.com/sleepwatch/sleep-server-go/internal/httputil"
	"github.com/sleepwatch/sleep-server-go/internal/model"
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

type sleepRecordResponse struct {
	SleepRecord *model.SleepSession `json:"sleep_record"`
}

type sleepRecordsResponse struct {
	SleepRecords []model.SleepSession `json:"sleep_records"`
	Meta         PageMeta             `json:"meta"`
}

type followingMeta struct {
	PageMeta
	From string `json:"from"`
	To   string `json:"to"`
}

type followingSleepRecordsResponse struct {
	SleepRecords []model.FollowingSleepSession `json:"sleep_records"`
	Meta         followingMeta                 `json:"meta"`
}
