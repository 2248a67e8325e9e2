// Package analytics summarises a batch of service records for the dashboard.
// Aggregate does no I/O; the caller picks the window and fetches the records.
package analytics

import (
	"sort"
	"time"

	"github.com/maverickdeepak/mahadev-auto/models"
	"github.com/maverickdeepak/mahadev-auto/utils"
)

const (
	unknownServiceType = "Unknown"
	topCustomerLimit   = 5
	monthLabel         = "Jan 2006"
)

type Overview struct {
	TotalServices      int     `json:"totalServices"`
	TotalRevenue       float64 `json:"totalRevenue"`
	TotalCustomers     int     `json:"totalCustomers"`
	AverageServiceTime float64 `json:"averageServiceTime"`
	PendingServices    int     `json:"pendingServices"`
	CompletedServices  int     `json:"completedServices"`
	TotalPendingAmount float64 `json:"totalPendingAmount"`
}

type ServiceTypeStat struct {
	ServiceType string  `json:"serviceType"`
	Count       int     `json:"count"`
	Revenue     float64 `json:"revenue"`
	Percentage  float64 `json:"percentage"`
}

type MonthlyStat struct {
	Year    int        `json:"year"`
	Month   time.Month `json:"monthNumber"`
	Label   string     `json:"month"`
	Count   int        `json:"count"`
	Revenue float64    `json:"revenue"`
}

type ServiceAnalytics struct {
	ServiceTypeBreakdown []ServiceTypeStat `json:"serviceTypeBreakdown"`
	MonthlyServices      []MonthlyStat     `json:"monthlyServices"`
}

type RevenueShare struct {
	ServiceType string  `json:"serviceType"`
	Revenue     float64 `json:"revenue"`
	Percentage  float64 `json:"percentage"`
}

type PaymentStatus struct {
	Paid    float64 `json:"paid"`
	Pending float64 `json:"pending"`
	Total   float64 `json:"total"`
}

type PaymentMethodStat struct {
	Method     string  `json:"method"`
	Count      int     `json:"count"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

type PostDeliveryStat struct {
	Count      int     `json:"count"`
	Amount     float64 `json:"amount"`
	Percentage float64 `json:"percentage"`
}

type RevenueAnalytics struct {
	TotalRevenue         float64             `json:"totalRevenue"`
	AverageOrderValue    float64             `json:"averageOrderValue"`
	RevenueByService     []RevenueShare      `json:"revenueByService"`
	PaymentStatus        PaymentStatus       `json:"paymentStatus"`
	PaymentMethods       []PaymentMethodStat `json:"paymentMethods"`
	PostDeliveryPayments PostDeliveryStat    `json:"postDeliveryPayments"`
}

type CustomerStat struct {
	CustomerName string    `json:"customerName"`
	BikeNumber   string    `json:"bikeNumber"`
	Visits       int       `json:"visits"`
	TotalSpent   float64   `json:"totalSpent"`
	LastVisit    time.Time `json:"lastVisit"`
}

type CustomerAnalytics struct {
	TotalCustomers        int            `json:"totalCustomers"`
	RepeatCustomers       int            `json:"repeatCustomers"`
	NewCustomers          int            `json:"newCustomers"`
	CustomerRetentionRate float64        `json:"customerRetentionRate"`
	TopCustomers          []CustomerStat `json:"topCustomers"`
}

type StatusDistribution struct {
	Pending    int `json:"pending"`
	InProgress int `json:"inProgress"`
	Done       int `json:"done"`
	Delivered  int `json:"delivered"`
}

type PerformanceMetrics struct {
	AverageServiceTime float64            `json:"averageServiceTime"`
	OnTimeDeliveryRate float64            `json:"onTimeDeliveryRate"`
	StatusDistribution StatusDistribution `json:"statusDistribution"`
}

// Report is the full dashboard summary. Percentages are 0-100 and unrounded.
type Report struct {
	Overview           Overview           `json:"overview"`
	ServiceAnalytics   ServiceAnalytics   `json:"serviceAnalytics"`
	RevenueAnalytics   RevenueAnalytics   `json:"revenueAnalytics"`
	CustomerAnalytics  CustomerAnalytics  `json:"customerAnalytics"`
	PerformanceMetrics PerformanceMetrics `json:"performanceMetrics"`
}

// Aggregate builds a Report from records in any order. Empty input gives
// zero counts and zero rates.
func Aggregate(records []models.ServiceRecord) Report {
	var (
		totalRevenue float64
		totalPending float64
		totalPaid    float64
		status       StatusDistribution
	)
	for _, r := range records {
		totalRevenue += r.TotalCost
		totalPending += r.PendingAmount
		totalPaid += r.AmountPaid
		switch r.ServiceStatus {
		case models.StatusPending:
			status.Pending++
		case models.StatusInProgress:
			status.InProgress++
		case models.StatusDone:
			status.Done++
		case models.StatusDelivered:
			status.Delivered++
		}
	}

	breakdown := serviceTypeBreakdown(records)
	customers := customerStats(records)
	avgTime := averageServiceTime(records)

	repeat := 0
	for _, c := range customers {
		if c.Visits > 1 {
			repeat++
		}
	}

	return Report{
		Overview: Overview{
			TotalServices:      len(records),
			TotalRevenue:       totalRevenue,
			TotalCustomers:     len(customers),
			AverageServiceTime: avgTime,
			PendingServices:    status.Pending,
			CompletedServices:  status.Delivered,
			TotalPendingAmount: totalPending,
		},
		ServiceAnalytics: ServiceAnalytics{
			ServiceTypeBreakdown: breakdown,
			MonthlyServices:      monthlyServices(records),
		},
		RevenueAnalytics: RevenueAnalytics{
			TotalRevenue:      totalRevenue,
			AverageOrderValue: ratio(totalRevenue, float64(len(records))),
			RevenueByService:  revenueByService(breakdown, totalRevenue),
			PaymentStatus: PaymentStatus{
				Paid:    totalPaid,
				Pending: totalPending,
				Total:   totalRevenue,
			},
			PaymentMethods:       paymentMethods(records),
			PostDeliveryPayments: postDeliveryPayments(records),
		},
		CustomerAnalytics: CustomerAnalytics{
			TotalCustomers:        len(customers),
			RepeatCustomers:       repeat,
			NewCustomers:          len(customers) - repeat,
			CustomerRetentionRate: percentage(repeat, len(customers)),
			TopCustomers:          topCustomers(customers, topCustomerLimit),
		},
		PerformanceMetrics: PerformanceMetrics{
			AverageServiceTime: avgTime,
			OnTimeDeliveryRate: onTimeDeliveryRate(records),
			StatusDistribution: status,
		},
	}
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func percentage(part, whole int) float64 {
	return ratio(float64(part), float64(whole)) * 100
}

// GrowthPercentage compares two periods; from nothing to something counts as 100%.
func GrowthPercentage(current, previous float64) float64 {
	if previous == 0 {
		if current == 0 {
			return 0
		}
		return 100
	}
	return ((current - previous) / previous) * 100
}

// averageServiceTime is the mean days from start to delivery over delivered
// records that carry both dates.
func averageServiceTime(records []models.ServiceRecord) float64 {
	var total float64
	n := 0
	for _, r := range records {
		if r.ServiceStatus != models.StatusDelivered || r.ServiceStartDate == nil || r.DeliveryDate == nil {
			continue
		}
		total += utils.FractionalDays(*r.ServiceStartDate, *r.DeliveryDate)
		n++
	}
	return ratio(total, float64(n))
}

func serviceTypeBreakdown(records []models.ServiceRecord) []ServiceTypeStat {
	index := map[string]int{}
	out := []ServiceTypeStat{}
	for _, r := range records {
		t := r.ServiceType
		if t == "" {
			t = unknownServiceType
		}
		i, ok := index[t]
		if !ok {
			i = len(out)
			index[t] = i
			out = append(out, ServiceTypeStat{ServiceType: t})
		}
		out[i].Count++
		out[i].Revenue += r.TotalCost
	}
	for i := range out {
		out[i].Percentage = percentage(out[i].Count, len(records))
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].ServiceType < out[j].ServiceType
	})
	return out
}

func revenueByService(breakdown []ServiceTypeStat, totalRevenue float64) []RevenueShare {
	out := make([]RevenueShare, 0, len(breakdown))
	for _, b := range breakdown {
		out = append(out, RevenueShare{
			ServiceType: b.ServiceType,
			Revenue:     b.Revenue,
			Percentage:  ratio(b.Revenue, totalRevenue) * 100,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Revenue > out[j].Revenue })
	return out
}

func monthlyServices(records []models.ServiceRecord) []MonthlyStat {
	type key struct {
		year  int
		month time.Month
	}
	buckets := map[key]*MonthlyStat{}
	for _, r := range records {
		k := key{r.CreatedAt.Year(), r.CreatedAt.Month()}
		b, ok := buckets[k]
		if !ok {
			b = &MonthlyStat{
				Year:  k.year,
				Month: k.month,
				Label: time.Date(k.year, k.month, 1, 0, 0, 0, 0, time.UTC).Format(monthLabel),
			}
			buckets[k] = b
		}
		b.Count++
		b.Revenue += r.TotalCost
	}

	out := make([]MonthlyStat, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year < out[j].Year
		}
		return out[i].Month < out[j].Month
	})
	return out
}

func paymentMethods(records []models.ServiceRecord) []PaymentMethodStat {
	index := map[string]int{}
	out := []PaymentMethodStat{}
	total := 0
	for _, r := range records {
		for _, p := range r.PaymentHistory {
			m := p.Method()
			i, ok := index[m]
			if !ok {
				i = len(out)
				index[m] = i
				out = append(out, PaymentMethodStat{Method: m})
			}
			out[i].Count++
			out[i].Amount += p.Amount
			total++
		}
	}
	for i := range out {
		out[i].Percentage = percentage(out[i].Count, total)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Method < out[j].Method
	})
	return out
}

func postDeliveryPayments(records []models.ServiceRecord) PostDeliveryStat {
	var stat PostDeliveryStat
	total := 0
	for i := range records {
		r := &records[i]
		for _, p := range r.PaymentHistory {
			total++
			if r.IsPostDelivery(p) {
				stat.Count++
				stat.Amount += p.Amount
			}
		}
	}
	stat.Percentage = percentage(stat.Count, total)
	return stat
}

// customerStats groups visits by bike number. The name shown is the one on
// the most recent visit.
func customerStats(records []models.ServiceRecord) []CustomerStat {
	index := map[string]int{}
	out := []CustomerStat{}
	for _, r := range records {
		i, ok := index[r.BikeNumber]
		if !ok {
			i = len(out)
			index[r.BikeNumber] = i
			out = append(out, CustomerStat{
				BikeNumber:   r.BikeNumber,
				CustomerName: r.CustomerName,
				LastVisit:    r.CreatedAt,
			})
		}
		c := &out[i]
		c.Visits++
		c.TotalSpent += r.TotalCost
		if r.CreatedAt.After(c.LastVisit) {
			c.LastVisit = r.CreatedAt
			c.CustomerName = r.CustomerName
		}
	}
	return out
}

func topCustomers(customers []CustomerStat, limit int) []CustomerStat {
	out := append([]CustomerStat{}, customers...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].TotalSpent != out[j].TotalSpent {
			return out[i].TotalSpent > out[j].TotalSpent
		}
		return out[i].BikeNumber < out[j].BikeNumber
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// onTimeDeliveryRate only counts delivered records that had an estimate.
func onTimeDeliveryRate(records []models.ServiceRecord) float64 {
	eligible, onTime := 0, 0
	for _, r := range records {
		if r.ServiceStatus != models.StatusDelivered || r.DeliveryDate == nil || r.EstimatedCompletion == nil {
			continue
		}
		eligible++
		if !r.DeliveryDate.After(*r.EstimatedCompletion) {
			onTime++
		}
	}
	return percentage(onTime, eligible)
}
