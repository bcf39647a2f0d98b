// Package stats computes usage statistics over every published file and
// drives the statistics job through its states.
package stats

import (
	"time"

	"fcshare/internal/server/database"
)

// AnonymousBucket is the email reported for uploads without an owner.
const AnonymousBucket = "anonymous"

// FileDetail describes one published file.
type FileDetail struct {
	OriginalFile string    `json:"original_file"`
	Filesize     int64     `json:"filesize"`
	CreatedAt    time.Time `json:"created_at"`
	FCSVersion   string    `json:"fcs_version"`
	PnN          string    `json:"pnn"`
	EventCount   int64     `json:"event_count"`
}

// UserStatistic totals the files of one owner.
type UserStatistic struct {
	Email         string `json:"email"`
	FileCount     int64  `json:"file_count"`
	TotalFilesize int64  `json:"total_filesize"`
}

// Result is the payload stored on a completed job.
type Result struct {
	FileDetails    []FileDetail    `json:"file_details"`
	UserStatistics []UserStatistic `json:"user_statistics"`
}

type bucket struct {
	count int64
	bytes int64
}

// OwnerIDs returns the distinct owner ids of links in first-encounter order.
func OwnerIDs(links []database.ShortLink) []int64 {
	seen := make(map[int64]bool)
	var ids []int64
	for _, l := range links {
		if l.UserID == nil || seen[*l.UserID] {
			continue
		}
		seen[*l.UserID] = true
		ids = append(ids, *l.UserID)
	}
	return ids
}

// Aggregate builds the statistics for links. users must hold the owners
// returned by OwnerIDs; owners missing from it are left out. Both lists
// follow first-encounter order, with the anonymous bucket last.
func Aggregate(links []database.ShortLink, users []database.User) *Result {
	res := &Result{
		FileDetails:    make([]FileDetail, 0, len(links)),
		UserStatistics: []UserStatistic{},
	}

	buckets := make(map[int64]*bucket)
	var anon *bucket
	for _, l := range links {
		res.FileDetails = append(res.FileDetails, FileDetail{
			OriginalFile: l.OriginalFile,
			Filesize:     l.Filesize,
			CreatedAt:    l.CreatedAt,
			FCSVersion:   l.FCSVersion,
			PnN:          l.PnN,
			EventCount:   l.EventCount,
		})

		var b *bucket
		if l.UserID == nil {
			if anon == nil {
				anon = &bucket{}
			}
			b = anon
		} else {
			b = buckets[*l.UserID]
			if b == nil {
				b = &bucket{}
				buckets[*l.UserID] = b
			}
		}
		b.count++
		b.bytes += l.Filesize
	}

	emails := make(map[int64]string, len(users))
	for _, u := range users {
		emails[u.ID] = u.Email
	}

	for _, id := range OwnerIDs(links) {
		email, ok := emails[id]
		if !ok {
			continue
		}
		b := buckets[id]
		res.UserStatistics = append(res.UserStatistics, UserStatistic{
			Email:         email,
			FileCount:     b.count,
			TotalFilesize: b.bytes,
		})
	}

	if anon != nil {
		res.UserStatistics = append(res.UserStatistics, UserStatistic{
			Email:         AnonymousBucket,
			FileCount:     anon.count,
			TotalFilesize: anon.bytes,
		})
	}
	return res
}
