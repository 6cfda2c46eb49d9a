package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"
	"sigs.k8s.io/yaml"

	"github.com/clay-wangzhi/k8s-daily-monitor/internal/models"
	"github.com/clay-wangzhi/k8s-daily-monitor/internal/store"
)

// 报表格式
const (
	ReportMarkdown = "md"
	ReportCSV      = "csv"
	ReportYAML     = "yaml"
)

const noIssues = "none"

// ReportRow 报表中的一行
type ReportRow struct {
	Name    string `json:"name"`
	Cluster string `json:"cluster"`
	Date    string `json:"date"`
	Status  string `json:"status"`
	Value   string `json:"value"`
	Note    string `json:"note"`
}

// ReportFile 生成的报表文件
type ReportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// ReportService 每日巡检报表
type ReportService struct {
	repo store.ClusterRepository
	now  func() time.Time
}

// NewReportService 创建报表服务
func NewReportService(repo store.ClusterRepository) *ReportService {
	return &ReportService{repo: repo, now: time.Now}
}

// Generate 生成报表，clusterID 为空时包含所有集群
func (s *ReportService) Generate(ctx context.Context, clusterID *uint, format string) (*ReportFile, error) {
	if format == "" {
		format = ReportMarkdown
	}
	switch format {
	case ReportMarkdown, ReportCSV, ReportYAML:
	default:
		return nil, fmt.Errorf("%w: 不支持的报表格式 %q", ErrInvalidInput, format)
	}

	clusters, err := s.load(ctx, clusterID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	today := now.Format("2006.01.02")
	filename := fmt.Sprintf("k8s-daily-report-%s.%s", now.Format("2006-01-02"), format)

	switch format {
	case ReportCSV:
		body, err := buildCSV(clusters, today)
		if err != nil {
			return nil, err
		}
		return &ReportFile{Filename: filename, ContentType: "text/csv; charset=utf-8", Body: body}, nil
	case ReportYAML:
		body, err := buildYAML(clusters, today, now)
		if err != nil {
			return nil, err
		}
		return &ReportFile{Filename: filename, ContentType: "application/yaml; charset=utf-8", Body: body}, nil
	default:
		return &ReportFile{
			Filename:    filename,
			ContentType: "text/markdown; charset=utf-8",
			Body:        buildMarkdown(clusters, today, now),
		}, nil
	}
}

// load 按名称排序，检查项按名称排序
func (s *ReportService) load(ctx context.Context, clusterID *uint) ([]models.Cluster, error) {
	var clusters []models.Cluster
	if clusterID != nil {
		c, err := s.repo.GetCluster(ctx, *clusterID)
		if err != nil {
			return nil, err
		}
		clusters = []models.Cluster{*c}
	} else {
		list, err := s.repo.ListClusters(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range list {
			full, err := s.repo.GetCluster(ctx, c.ID)
			if err != nil {
				return nil, err
			}
			clusters = append(clusters, *full)
		}
	}
	sort.Slice(clusters, func(i, j int) bool { return clusters[i].Name < clusters[j].Name })
	for i := range clusters {
		addons := clusters[i].Addons
		sort.Slice(addons, func(a, b int) bool { return addons[a].Name < addons[b].Name })
	}
	return clusters, nil
}

func addonRows(c *models.Cluster, today string) []ReportRow {
	rows := make([]ReportRow, 0, len(c.Addons))
	for i := range c.Addons {
		a := &c.Addons[i]
		date := today
		if a.LastCheck != nil {
			date = a.LastCheck.UTC().Format("2006.01.02 15:04")
		}
		rows = append(rows, ReportRow{
			Name:    a.Name,
			Cluster: c.Name,
			Date:    date,
			Status:  string(a.DisplayStatus()),
			Value:   addonValue(a),
			Note:    addonNote(a),
		})
	}
	return rows
}

// addonValue 按类型提取关键数值
func addonValue(a *models.Addon) string {
	switch d := a.Details.(type) {
	case *models.EtcdDetails:
		if d.DBSizeBytes == 0 {
			return "-"
		}
		return fmt.Sprintf("DB:%.1fMB, Members:%d", float64(d.DBSizeBytes)/(1<<20), d.PodCount)
	case *models.NodeDetails:
		if d.TotalNodes == 0 {
			return "-"
		}
		return fmt.Sprintf("%d/%d", d.ReadyNodes, d.TotalNodes)
	case *models.ControlPlaneDetails:
		if len(d.Components) == 0 {
			return "-"
		}
		healthy := 0
		var latency int64
		for _, c := range d.Components {
			if c.Status == models.StatusHealthy {
				healthy++
			}
			if c.LatencyMs > latency {
				latency = c.LatencyMs
			}
		}
		return fmt.Sprintf("%d/%d healthy, %dms", healthy, len(d.Components), latency)
	case *models.SystemPodDetails:
		return fmt.Sprintf("%d/%d (%.1f%%)", d.ReadyPods, d.TotalPods, d.ReadyPercent)
	}
	if a.ResponseTimeMs > 0 {
		return fmt.Sprintf("%dms", a.ResponseTimeMs)
	}
	return "-"
}

// addonNote 非 healthy 时给出异常说明
func addonNote(a *models.Addon) string {
	if a.Status == models.StatusHealthy || a.Details == nil {
		return noIssues
	}
	switch d := a.Details.(type) {
	case *models.NodeDetails:
		var parts []string
		if len(d.NotReady) > 0 {
			parts = append(parts, "NotReady: "+strings.Join(firstN(d.NotReady, 3), ", "))
		}
		if len(d.Issues) > 0 {
			parts = append(parts, strings.Join(firstN(d.Issues, 3), ", "))
		}
		if len(parts) > 0 {
			return strings.Join(parts, "; ")
		}
	case *models.ControlPlaneDetails:
		var unhealthy []string
		for _, c := range d.Components {
			if c.Status != models.StatusHealthy {
				unhealthy = append(unhealthy, c.Name)
			}
		}
		if len(unhealthy) > 0 {
			return "unhealthy: " + strings.Join(unhealthy, ", ")
		}
	}
	if reason := a.Details.ErrorReason(); reason != "" {
		return truncate(reason, 60)
	}
	return noIssues
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func buildMarkdown(clusters []models.Cluster, today string, now time.Time) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# K8s Daily Check Report\n\n> Generated: %s\n\n", now.Format("2006.01.02 15:04 UTC"))
	for i := range clusters {
		fmt.Fprintf(&buf, "## Cluster: %s\n\n", clusters[i].Name)
		table := tablewriter.NewWriter(&buf)
		table.SetHeader([]string{"Check", "Date", "Status", "Value", "Note"})
		table.SetAutoFormatHeaders(false)
		table.SetAutoWrapText(false)
		table.SetBorders(tablewriter.Border{Left: true, Top: false, Right: true, Bottom: false})
		table.SetCenterSeparator("|")
		for _, r := range addonRows(&clusters[i], today) {
			table.Append([]string{r.Name, r.Date, r.Status, r.Value, r.Note})
		}
		table.Render()
		buf.WriteString("\n")
	}
	return buf.Bytes()
}

func buildCSV(clusters []models.Cluster, today string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"name", "cluster", "date", "status", "value", "note"}); err != nil {
		return nil, err
	}
	for i := range clusters {
		for _, r := range addonRows(&clusters[i], today) {
			if err := w.Write([]string{r.Name, r.Cluster, r.Date, r.Status, r.Value, r.Note}); err != nil {
				return nil, err
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("生成 CSV 失败: %w", err)
	}
	return buf.Bytes(), nil
}

type yamlReport struct {
	GeneratedAt time.Time     `json:"generated_at"`
	Clusters    []yamlCluster `json:"clusters"`
}

type yamlCluster struct {
	Name   string      `json:"name"`
	Status string      `json:"status"`
	Checks []ReportRow `json:"checks"`
}

func buildYAML(clusters []models.Cluster, today string, now time.Time) ([]byte, error) {
	report := yamlReport{GeneratedAt: now}
	for i := range clusters {
		report.Clusters = append(report.Clusters, yamlCluster{
			Name:   clusters[i].Name,
			Status: string(clusters[i].DisplayStatus()),
			Checks: addonRows(&clusters[i], today),
		})
	}
	out, err := yaml.Marshal(report)
	if err != nil {
		return nil, fmt.Errorf("生成 YAML 失败: %w", err)
	}
	return out, nil
}
