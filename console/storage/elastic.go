package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"code.linksmart.eu/dt/ops-console/model"
	"github.com/olivere/elastic"
)

const (
	indexTask   = "task"
	mappingTask = `{
	    "settings" : {
	        "number_of_shards" : 1,
			"number_of_replicas": 0,
			"refresh_interval": "1s"
	    },
	    "mappings" : {
	        "_doc" : {
				"dynamic": false,
	            "properties" : {
					"id": { "type" : "keyword" },
					"intent": { "type" : "keyword" },
					"target": { "type" : "keyword" },
					"state": { "type" : "keyword" },
	            	"createdAt": {"type": "date"},
	            	"updatedAt": {"type": "date"},
	            	"run": {"type": "object", "enabled": false}
	            }
	        }
	    }
	}`
	typeFixed = "_doc"
	pageSize  = 100
)

type elasticStorage struct {
	client *elastic.Client
	ctx    context.Context
}

func NewElasticStorage(url string) (Storage, error) {
	ctx := context.Background()

	client, err := elastic.NewSimpleClient(
		elastic.SetURL(url),
	)
	if err != nil {
		return nil, err
	}

	info, code, err := client.Ping(url).Do(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("storage: Elasticsearch returned with code %d and version %s", code, info.Version.Number)

	s := elasticStorage{
		ctx:    ctx,
		client: client,
	}
	err = s.createIndex(indexTask, mappingTask)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *elasticStorage) createIndex(index, mapping string) error {
	exists, err := s.client.IndexExists(index).Do(s.ctx)
	if err != nil {
		return fmt.Errorf("error checking index: %s", err)
	}
	if !exists {
		createIndex, err := s.client.CreateIndex(index).
			BodyString(mapping).Do(s.ctx)
		if err != nil {
			return fmt.Errorf("error creating index %s: %s", index, err)
		}
		if !createIndex.Acknowledged {
			log.Printf("storage: did not acknowledge creation of index: %s", index)
		}
		log.Printf("storage: created index: %s", index)
	}
	return nil
}

func (s *elasticStorage) AddTask(task *model.TaskRecord) error {
	res, err := s.client.Index().Index(indexTask).Type(typeFixed).
		Id(task.ID).BodyJson(task).Do(s.ctx)
	if err != nil {
		return err
	}
	log.Printf("storage: indexed %s/%s v%d", res.Index, res.Id, res.Version)
	return nil
}

func (s *elasticStorage) GetTasks() ([]model.TaskRecord, error) {
	searchResult, err := s.client.Search().Index(indexTask).Type(typeFixed).
		Sort("createdAt", false).From(0).Size(pageSize).Do(s.ctx)
	if err != nil {
		return nil, err
	}

	tasks := []model.TaskRecord{}
	for _, hit := range searchResult.Hits.Hits {
		var task model.TaskRecord
		err := json.Unmarshal(*hit.Source, &task)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, nil
}

func (s *elasticStorage) GetTask(id string) (*model.TaskRecord, error) {
	res, err := s.client.Get().Index(indexTask).Type(typeFixed).
		Id(id).Do(s.ctx)
	if elastic.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !res.Found {
		return nil, nil
	}
	var task model.TaskRecord
	err = json.Unmarshal(*res.Source, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}
